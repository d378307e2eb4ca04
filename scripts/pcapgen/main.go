package main

import (
	"FlowSentry/internal/engine/protocol"
	"FlowSentry/pkg/pcap"
	"flag"
	"log"
	"math/rand"
	"net"
	"time"
)

// Generates a capture for a monitored host: complete conversations with remote
// peers, connection attempts that are never answered, and traffic between two
// other hosts that the engine cannot attribute.
func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	localAddr := flag.String("local", "10.0.0.5", "Address of the monitored host")
	conversations := flag.Int("c", 100, "Number of complete conversations")
	unanswered := flag.Int("u", 5, "Number of unanswered connection attempts")
	retries := flag.Int("retries", 3, "SYN retransmissions per unanswered attempt")
	noise := flag.Int("n", 20, "Number of segments between unrelated hosts")
	flag.Parse()

	local := net.ParseIP(*localAddr).To4()
	if local == nil {
		log.Fatalf("Invalid local address: %s", *localAddr)
	}

	w, err := pcap.CreateFile(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer w.Close()

	g := &generator{w: w, ts: time.Now()}
	log.Printf("Generating %d conversations, %d unanswered attempts and %d noise segments into %s...",
		*conversations, *unanswered, *noise, *outputFile)

	for i := 0; i < *conversations; i++ {
		g.conversation(local, randomIP(), ephemeralPort(), 443)
	}
	for i := 0; i < *unanswered; i++ {
		g.unanswered(local, randomIP(), ephemeralPort(), 80, *retries)
	}
	for i := 0; i < *noise; i++ {
		g.write(protocol.Segment{
			SrcIP: randomIP(), DstIP: randomIP(),
			SrcPort: ephemeralPort(), DstPort: 22,
			Seq: rand.Uint32(), ACK: true, PSH: true,
			Payload: make([]byte, rand.Intn(200)),
		})
	}

	log.Printf("Successfully generated %d frames into %s.", g.frames, *outputFile)
}

type generator struct {
	w      *pcap.FileWriter
	ts     time.Time
	frames int
}

func (g *generator) write(s protocol.Segment) {
	frame, err := protocol.BuildFrame(s)
	if err != nil {
		log.Fatalf("Failed to serialize segment: %v", err)
	}
	g.ts = g.ts.Add(time.Duration(rand.Intn(5000)+100) * time.Microsecond)
	if err := g.w.WriteFrame(g.ts, frame); err != nil {
		log.Fatalf("Failed to write frame: %v", err)
	}
	g.frames++
}

// conversation writes a handshake, a request, a response and a teardown.
func (g *generator) conversation(local, peer net.IP, localPort, peerPort uint16) {
	cseq, sseq := rand.Uint32(), rand.Uint32()
	out := func(s protocol.Segment) protocol.Segment {
		s.SrcIP, s.DstIP, s.SrcPort, s.DstPort = local, peer, localPort, peerPort
		return s
	}
	in := func(s protocol.Segment) protocol.Segment {
		s.SrcIP, s.DstIP, s.SrcPort, s.DstPort = peer, local, peerPort, localPort
		return s
	}

	request := make([]byte, rand.Intn(400)+50)
	response := make([]byte, rand.Intn(1400)+50)
	rand.Read(request)
	rand.Read(response)

	g.write(out(protocol.Segment{Seq: cseq, SYN: true}))
	g.write(in(protocol.Segment{Seq: sseq, Ack: cseq + 1, SYN: true, ACK: true}))
	g.write(out(protocol.Segment{Seq: cseq + 1, Ack: sseq + 1, ACK: true}))
	g.write(out(protocol.Segment{Seq: cseq + 1, Ack: sseq + 1, ACK: true, PSH: true, Payload: request}))
	g.write(in(protocol.Segment{Seq: sseq + 1, Ack: cseq + 1 + uint32(len(request)), ACK: true, PSH: true, Payload: response}))
	g.write(out(protocol.Segment{Seq: cseq + 1 + uint32(len(request)), Ack: sseq + 1 + uint32(len(response)), ACK: true, FIN: true}))
}

// unanswered writes an initial SYN and its retransmissions, with no reply.
func (g *generator) unanswered(local, peer net.IP, localPort, peerPort uint16, retries int) {
	seq := rand.Uint32()
	for i := 0; i <= retries; i++ {
		g.write(protocol.Segment{
			SrcIP: local, DstIP: peer,
			SrcPort: localPort, DstPort: peerPort,
			Seq: seq, SYN: true,
		})
	}
}

func randomIP() net.IP {
	return net.IP{byte(rand.Intn(223) + 1), byte(rand.Intn(256)), byte(rand.Intn(256)), byte(rand.Intn(254) + 1)}
}

func ephemeralPort() uint16 {
	return uint16(rand.Intn(65535-1024) + 1024)
}
