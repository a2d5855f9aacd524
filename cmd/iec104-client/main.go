// Command iec104-client runs a minimal CS104 master: connect, STARTDT,
// one station interrogation, then print every received ASDU.
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
	addr := flag.String("addr", "127.0.0.1:2404", "server address")
	ca := flag.Uint("ca", 1, "common address of the remote station")
	flag.Parse()

	lg := logrus.New()
	lg.SetLevel(logrus.DebugLevel)
	iec104.SetLogger(lg)

	client := iec104.NewClient(*addr, nil)
	client.SetASDUHandler(func(asdu *iec104.ASDU) iec104.HandlerResult {
		elems, err := asdu.AllElements()
		if err != nil {
			lg.Warnf("malformed asdu %s: %v", asdu.TypeID(), err)
			return iec104.Invalid
		}
		for _, io := range elems {
			lg.Infof("%s cot=%d ioa=%d single=%d float=%.2f",
				asdu.TypeID(), asdu.COT(), io.Address, io.Element.Single, io.Element.Float)
		}
		return iec104.Handled
	})
	client.SetConnectionEventHandler(func(e iec104.ConnectionEvent) {
		lg.Infof("connection event: %s", e)
	})

	if err := client.Connect(); err != nil {
		lg.Fatalf("connect: %v", err)
	}
	client.SendStartDT()
	time.Sleep(500 * time.Millisecond)

	if err := client.SendInterrogationCommand(iec104.CotAct, uint16(*ca), 20); err != nil {
		lg.Errorf("interrogation: %v", err)
	}
	if err := client.SendClockSyncCommand(uint16(*ca), iec104.CP56Time2aFromTime(time.Now())); err != nil {
		lg.Errorf("clock sync: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	client.Close()
}
