// Command wvb-server runs the bridge's server half: it advertises over
// UDP broadcast, negotiates a VRCP session with one client, and serves
// that session's control channel until the client disconnects (spec
// §6.5). It does not start the video pipeline worker.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/martindanhier/wvb/internal/config"
	"github.com/martindanhier/wvb/internal/telemetry"
	"github.com/martindanhier/wvb/netsock"
	"github.com/martindanhier/wvb/vrcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func main() {
	cfg := config.DefaultServer()
	var configPath string

	root := &cobra.Command{
		Use:   "wvb-server",
		Short: "Wireless VR bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				kv, err := config.LoadKV(configPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				if err := cfg.ApplyKV(kv); err != nil {
					return err
				}
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	// The original CLI's -ri/-sp short forms are two letters, which
	// pflag's single-rune shorthand can't express; they survive as
	// long-only flags instead.
	flags.StringVar(&configPath, "config", "", "path to a key=value config file")
	flags.BoolVarP(&cfg.Benchmark, "benchmark", "b", cfg.Benchmark, "run in benchmark mode")
	flags.StringVarP(&cfg.NetworkIface, "network", "n", cfg.NetworkIface, "network interface to advertise on")
	flags.DurationVar(&cfg.RunInterval, "run-interval", cfg.RunInterval, "advertisement broadcast interval")
	flags.StringVarP(&cfg.Codec, "codec", "c", cfg.Codec, "preferred video codec")
	flags.StringVar(&cfg.SteamVRPath, "steamvr-path", cfg.SteamVRPath, "path to the SteamVR installation")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("wvb-server exited with an error")
	}
}

func run(cfg config.Server) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "wvb-server")
	log.WithField("codec", cfg.Codec).Info("starting wvb-server")

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	broadcaster := telemetry.NewBroadcaster()

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(reg))
	mux.Handle("/live", broadcaster)
	go func() {
		if err := http.ListenAndServe(":9273", mux); err != nil {
			log.WithError(err).Warn("telemetry http server exited")
		}
	}()

	cfg.SupportedCodecs = []string{cfg.Codec}
	udpPort := cfg.AdvertisementPort + 1
	videoPort := cfg.AdvertisementPort + 2

	tcpListener := netsock.NewTCPSocket()
	if err := tcpListener.Listen(fmt.Sprintf(":%d", udpPort)); err != nil {
		return fmt.Errorf("listening for vrcp connections: %w", err)
	}
	defer tcpListener.Close()

	broadcastSock, err := netsock.NewUDPSocket(fmt.Sprintf(":%d", cfg.AdvertisementPort), true)
	if err != nil {
		return fmt.Errorf("opening advertisement socket: %w", err)
	}
	defer broadcastSock.Close()

	destAddrs, err := netsock.BroadcastAddrs(vrcp.DefaultAdvertisementPort)
	if err != nil {
		return fmt.Errorf("enumerating broadcast addresses: %w", err)
	}
	log.WithField("interval", cfg.RunInterval).Info("advertising presence, waiting for a client")

	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAdvertising := func() { stopOnce.Do(func() { close(stop) }) }
	go advertiseLoop(broadcastSock, destAddrs, udpPort, cfg.RunInterval, stop)
	defer stopAdvertising()

	for {
		err := tcpListener.Accept(5 * time.Second)
		if err == nil {
			break
		}
		if err != netsock.ErrTimeout {
			return fmt.Errorf("accepting client connection: %w", err)
		}
	}
	stopAdvertising()
	log.WithField("peer", tcpListener.PeerAddr()).Info("client connected, starting negotiation")

	session := vrcp.NewServer(vrcp.ServerConfig{
		SupportedVideoCodecs: cfg.SupportedCodecs,
		UDPVRCPPort:          uint16(udpPort),
		VideoPort:            uint16(videoPort),
	})
	metrics.SessionState.WithLabelValues(session.State().String()).Set(1)

	if err := negotiate(tcpListener, session, log); err != nil {
		return fmt.Errorf("negotiation failed: %w", err)
	}

	log.WithField("codec", session.ChosenCodec()).Info("session connected")
	metrics.SessionState.WithLabelValues(session.State().String()).Set(1)
	broadcaster.Publish(telemetry.LiveSample{Kind: "session_connected", Value: session.ChosenCodec()})

	return serveSession(tcpListener, session, log)
}

// serveSession keeps draining the VRCP control channel until the client
// disconnects. PING_REPLY and TRACKING_DATA packets are handled; other
// packet types are ignored, and malformed packets are logged and dropped
// without closing the connection. The video pipeline worker and driver
// IPC channel are wired up
// out-of-process (see package pipeline and package driveripc) once a
// driver attaches to this same session.
func serveSession(sock *netsock.TCPSocket, session *vrcp.Server, log *logrus.Entry) error {
	buf := make([]byte, 1500)
	for sock.IsConnected() {
		n, err := sock.Receive(buf, time.Second)
		if err == netsock.ErrTimeout {
			continue
		}
		if err != nil {
			log.WithError(err).Info("client disconnected")
			return nil
		}
		handleControlPacket(session, buf[:n], log)
	}
	return nil
}

func handleControlPacket(session *vrcp.Server, data []byte, log *logrus.Entry) {
	h, ok := vrcp.ParseBaseHeader(data)
	if !ok {
		log.Warn("dropping malformed vrcp packet")
		return
	}
	switch h.FType {
	case vrcp.FieldPingReply:
		reply, err := vrcp.ParsePingReply(data)
		if err == nil {
			session.HandlePingReply(reply, time.Now())
		}
	case vrcp.FieldTrackingData:
		if _, err := vrcp.ParseTrackingData(data); err != nil {
			log.WithError(err).Debug("dropping malformed tracking data")
		}
	}
}

// advertiseLoop broadcasts a SERVER_ADVERTISEMENT at most once per
// interval, using a token-bucket limiter rather than a bare ticker so a
// burst of retries (e.g. after a transient send error) never floods the
// broadcast domain faster than the advertised interval promises.
func advertiseLoop(sock *netsock.UDPSocket, dests []*net.UDPAddr, tcpPort int, interval time.Duration, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		adv := vrcp.ServerAdvertisement{TCPPort: uint16(tcpPort), Interval: uint8(interval.Seconds())}
		for _, d := range dests {
			_, _ = sock.Send(adv.Marshal(), d)
		}
	}
}

func negotiate(sock *netsock.TCPSocket, session *vrcp.Server, log *logrus.Entry) error {
	buf := make([]byte, 1500)
	n, err := sock.Receive(buf, 5*time.Second)
	if err != nil {
		return err
	}
	req, err := vrcp.ParseConnReq(buf[:n])
	if err != nil {
		return err
	}
	resp := session.HandleConnReq(req)
	if _, err := sock.Send(resp, time.Second); err != nil {
		return err
	}
	session.FinishSync()
	return nil
}
