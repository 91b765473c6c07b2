// Command wvb-driver is the OpenVR/SteamVR driver-side process: it
// attaches to the shared-memory IPC channel (package driveripc) and posts
// present info on every frame; it does not read or relay tracking
// updates. Real HMD/runtime integration is out of scope (spec §1);
// this wires the IPC contract end to end against a synthetic frame
// source so the contract itself stays exercised and testable.
package main

import (
	"math/rand"
	"time"

	"github.com/martindanhier/wvb/driveripc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var frameIntervalMS int

	root := &cobra.Command{
		Use:   "wvb-driver",
		Short: "Wireless VR bridge driver-side IPC bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(time.Duration(frameIntervalMS) * time.Millisecond)
		},
	}
	root.Flags().IntVar(&frameIntervalMS, "frame-interval-ms", 11, "synthetic Present() interval in milliseconds")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("wvb-driver exited with an error")
	}
}

func run(frameInterval time.Duration) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "wvb-driver")

	channel := driveripc.NewChannel()
	driver := channel.Driver()

	if err := driver.SetState(driveripc.StateStreaming); err != nil {
		return err
	}

	log.WithField("interval", frameInterval).Info("presenting synthetic frames")
	var frameID uint32
	for {
		info := driveripc.PresentInfo{
			FrameID:         frameID,
			SampleTimestamp: uint32(rand.Int31()),
			PoseTimestamp:   uint32(rand.Int31()),
			PresentedAt:     time.Now(),
		}
		if err := driver.PostPresentInfo(info); err != nil {
			log.WithError(err).Warn("failed to post present info")
		}
		driver.WaitFrameFinished(frameInterval)
		frameID++
		time.Sleep(frameInterval)
	}
}
