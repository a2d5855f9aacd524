// Command iec104-server runs a minimal CS104 slave: it answers station
// interrogations with a handful of simulated measurements and pushes a
// spontaneous short-float value once per second.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	iec104 "github.com/mz-automation/iec60870"
)

func main() {
	addr := flag.String("addr", ":2404", "listen address")
	ca := flag.Uint("ca", 1, "common address of this station")
	flag.Parse()

	lg := logrus.New()
	lg.SetLevel(logrus.DebugLevel)
	iec104.SetLogger(lg)

	params := iec104.DefaultCS104Params()
	server := iec104.NewServer(*addr, nil)
	server.SetCommonAddress(uint16(*ca))

	server.SetInterrogationHandler(func(mc *iec104.MasterConnection, asdu *iec104.ASDU, qoi byte) iec104.HandlerResult {
		for ioa := iec104.IOA(100); ioa < 103; ioa++ {
			resp := iec104.NewASDU(params, false, iec104.CotInrogen, 0, uint16(*ca), false, false)
			if err := resp.AddInformationObject(&iec104.InformationObject{
				Address: ioa,
				Element: iec104.InformationElement{TypeID: iec104.MSpNa1, Single: iec104.SpiOn},
			}); err != nil {
				lg.Errorf("build interrogation response: %v", err)
				return iec104.Invalid
			}
			if err := mc.SendASDU(resp); err != nil {
				lg.Errorf("send interrogation response: %v", err)
				return iec104.Invalid
			}
		}
		return iec104.Handled
	})

	server.SetClockSyncHandler(func(mc *iec104.MasterConnection, asdu *iec104.ASDU, t iec104.CP56Time2a) iec104.HandlerResult {
		lg.Infof("clock sync from %s: %02d:%02d", mc.RemoteIP(), t.Hour(), t.Minute())
		return iec104.Handled
	})

	if err := server.Start(); err != nil {
		lg.Fatalf("start: %v", err)
	}
	lg.Infof("listening on %s", *addr)

	go func() {
		value := float32(21.5)
		for range time.Tick(time.Second) {
			value += 0.1
			asdu := iec104.NewASDU(params, false, iec104.CotSpt, 0, uint16(*ca), false, false)
			if err := asdu.AddInformationObject(&iec104.InformationObject{
				Address: 200,
				Element: iec104.InformationElement{TypeID: iec104.MMeNc1, Float: value},
			}); err != nil {
				continue
			}
			if err := server.EnqueueASDU(asdu); err != nil {
				lg.Warnf("enqueue: %v", err)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	server.Stop()
}
