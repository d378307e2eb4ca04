package main

import (
	"FlowSentry/internal/model"
	"FlowSentry/internal/snapshot"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana <snapshot_dir>")
		os.Exit(1)
	}

	flows, err := snapshot.ReadGob(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read snapshot: %v", err)
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].AToZBytes+flows[i].ZToABytes > flows[j].AToZBytes+flows[j].ZToABytes
	})

	fmt.Println("Decoded Flows:")
	for _, f := range flows {
		fmt.Printf("%-50s a->z %8d B %5d pkts syn=%d | z->a %8d B %5d pkts syn=%d\n",
			f.Key, f.AToZBytes, f.AToZPackets, f.AToZSynCounter, f.ZToABytes, f.ZToAPackets, f.ZToASynCounter)
	}

	summary, _ := json.MarshalIndent(snapshot.Summarize(model.TableSnapshot{Flows: flows}), "", "  ")
	fmt.Printf("%s\n", summary)
}
