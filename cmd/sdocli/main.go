package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	gosdo "github.com/openfieldbus/gosdo"
	"github.com/openfieldbus/gosdo/pkg/od"
	"github.com/openfieldbus/gosdo/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

var DEFAULT_NODE_ID = 0x10
var DEFAULT_CAN_INTERFACE = "can0"

func main() {
	log.SetLevel(log.DebugLevel)
	// Command line arguments
	channel := flag.String("i", DEFAULT_CAN_INTERFACE, "socketcan channel e.g. can0,vcan0")
	nodeId := flag.Int("n", DEFAULT_NODE_ID, "server node id")
	index := flag.String("x", "0x2000", "object index")
	subindex := flag.Int("s", 0, "object subindex")
	value := flag.String("w", "", "hex bytes to write e.g. deadbeef, read when empty")
	timeoutMs := flag.Int("t", 30, "transfer timeout in milliseconds")
	flag.Parse()

	bus, err := gosdo.NewSocketcanBus(*channel)
	if err != nil {
		log.Fatalf("could not open %v : %v", *channel, err)
	}
	bm, err := gosdo.NewBusManager(bus)
	if err != nil {
		log.Fatalf("could not create bus manager : %v", err)
	}
	if err := bus.Connect(); err != nil {
		log.Fatalf("could not connect : %v", err)
	}

	parsedIndex, err := strconv.ParseUint(*index, 0, 16)
	if err != nil {
		log.Fatalf("invalid index %v : %v", *index, err)
	}

	client, err := sdo.NewClient(bm, od.NewOD(), 0)
	if err != nil {
		log.Fatalf("could not create sdo client : %v", err)
	}
	if err := client.AddServer(uint8(*nodeId)); err != nil {
		log.Fatalf("could not add server x%x : %v", *nodeId, err)
	}
	if err := client.Init(); err != nil {
		log.Fatalf("could not init sdo client : %v", err)
	}
	timeout := time.Duration(*timeoutMs) * time.Millisecond

	if *value == "" {
		data, err := client.UploadRaw(sdo.UploadRequest{
			ServerId: uint8(*nodeId),
			Index:    uint16(parsedIndex),
			SubIndex: uint8(*subindex),
			Timeout:  timeout,
		})
		if err != nil {
			log.Fatalf("upload failed : %v", err)
		}
		fmt.Printf("x%x:x%x = % X\n", parsedIndex, *subindex, data)
		return
	}

	data, err := hex.DecodeString(strings.TrimPrefix(*value, "0x"))
	if err != nil {
		log.Fatalf("invalid hex value %v : %v", *value, err)
	}
	err = client.Download(sdo.DownloadRequest{
		ServerId: uint8(*nodeId),
		Data:     data,
		Index:    uint16(parsedIndex),
		SubIndex: uint8(*subindex),
		Timeout:  timeout,
	})
	if err != nil {
		log.Fatalf("download failed : %v", err)
	}
	fmt.Printf("wrote %v bytes to x%x:x%x\n", len(data), parsedIndex, *subindex)
}
