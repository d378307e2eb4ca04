package main

import (
	"FlowSentry/internal/flow"
	"FlowSentry/internal/model"
	"FlowSentry/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
)

func main() {
	limit := flag.Int("n", 20, "Number of datagrams to print, 0 for all")
	localAddr := flag.String("local", "", "Address of the monitored host, to print flow keys")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n 20] [-local 10.0.0.5] <path_to_pcap_file>")
		os.Exit(1)
	}

	src, err := pcap.OpenFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer src.Close()

	var local net.IP
	if *localAddr != "" {
		local = net.ParseIP(*localAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan *model.Datagram, 64)
	go func() {
		if err := src.ReadDatagrams(ctx, out); err != nil {
			log.Printf("Read error: %v", err)
		}
		close(out)
	}()

	i := 0
	for d := range out {
		i++
		fmt.Printf("[%s] %s flags=%s seq=%d ack=%d payload=%d",
			d.Timestamp.Format("15:04:05.000"), d, d.Flags, d.Seq, d.Ack, d.PayloadBytes)
		if local != nil {
			if id, err := flow.Resolve(d, local); err == nil {
				fmt.Printf(" flow=%s dir=%s", id.Key, id.Direction)
			} else {
				fmt.Print(" flow=-")
			}
		}
		fmt.Println()
		if *limit > 0 && i >= *limit {
			cancel()
			break
		}
	}
}
