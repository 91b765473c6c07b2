// Command wvb-client discovers a wvb-server on the local network and
// negotiates a VRCP session. After CONN_ACCEPT it initializes a local RTP
// clock and moves the session to CONNECTED without exchanging any
// clock-sync packets, then exits.
package main

import (
	"fmt"
	"time"

	"github.com/martindanhier/wvb/internal/config"
	"github.com/martindanhier/wvb/netsock"
	"github.com/martindanhier/wvb/rtpclock"
	"github.com/martindanhier/wvb/vrcp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.DefaultClient()

	root := &cobra.Command{
		Use:   "wvb-client",
		Short: "Wireless VR bridge client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	flags := root.Flags()
	flags.StringVarP(&cfg.ServerAddr, "server", "s", cfg.ServerAddr, "server address (host:port); empty discovers via broadcast")
	flags.StringVarP(&cfg.Manufacturer, "manufacturer", "m", cfg.Manufacturer, "device manufacturer name reported during negotiation")
	flags.StringVar(&cfg.SystemName, "system-name", cfg.SystemName, "device system name reported during negotiation")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("wvb-client exited with an error")
	}
}

func run(cfg config.Client) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "wvb-client")

	var addr string
	if cfg.ServerAddr != "" {
		addr = cfg.ServerAddr
	} else {
		adv, err := discover(log)
		if err != nil {
			return fmt.Errorf("discovering server: %w", err)
		}
		addr = fmt.Sprintf("%s:%d", adv.Addr, adv.TCPPort)
	}

	sock := netsock.NewTCPSocket()
	if err := sock.Connect(addr, 5*time.Second); err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer sock.Close()

	client := vrcp.NewClient()
	req := client.BuildConnReq(vrcp.VideoModeUDP, 0, 0, vrcp.DeviceSpecs{
		EyeWidth: 1832, EyeHeight: 1920,
		RefreshRateNum: 90, RefreshRateDen: 1,
		Manufacturer:         cfg.Manufacturer,
		SystemName:           cfg.SystemName,
		SupportedVideoCodecs: []string{"h264"},
	})
	if _, err := sock.Send(req, time.Second); err != nil {
		return fmt.Errorf("sending conn_req: %w", err)
	}

	buf := make([]byte, 1500)
	n, err := sock.Receive(buf, 5*time.Second)
	if err != nil {
		return fmt.Errorf("awaiting server response: %w", err)
	}
	h, ok := vrcp.ParseBaseHeader(buf[:n])
	if !ok {
		return fmt.Errorf("malformed response from server")
	}
	switch h.FType {
	case vrcp.FieldConnAccept:
		accept, err := vrcp.ParseConnAccept(buf[:n])
		if err != nil {
			return err
		}
		client.HandleConnAccept(accept)
		log.WithField("codec", accept.ChosenVideoCodec).Info("connection accepted")
	case vrcp.FieldConnReject:
		reject, err := vrcp.ParseConnReject(buf[:n])
		if err != nil {
			return err
		}
		return client.HandleConnReject(reject)
	default:
		return fmt.Errorf("unexpected packet type %v during negotiation", h.FType)
	}

	clock := rtpclock.New()
	log.WithField("epoch", clock.NtpEpoch()).Info("clock initialized, beginning sync")

	if err := client.HandleSyncFinished(); err != nil {
		return err
	}
	log.WithField("state", client.State()).Info("session connected")
	return nil
}

func discover(log *logrus.Entry) (vrcp.Advertisement, error) {
	sock, err := netsock.NewUDPSocket(fmt.Sprintf(":%d", vrcp.DefaultAdvertisementPort), false)
	if err != nil {
		return vrcp.Advertisement{}, err
	}
	defer sock.Close()

	buf := make([]byte, 64)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		n, peer, err := sock.Receive(buf, time.Second)
		if err == netsock.ErrTimeout {
			continue
		}
		if err != nil {
			return vrcp.Advertisement{}, err
		}
		adv, err := vrcp.ParseServerAdvertisement(buf[:n])
		if err != nil {
			log.WithError(err).Debug("ignoring malformed advertisement")
			continue
		}
		return vrcp.Advertisement{ServerAdvertisement: adv, Addr: peer.IP.String()}, nil
	}
	return vrcp.Advertisement{}, fmt.Errorf("no server advertisement received within timeout")
}
