package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/infrastructure/middleware"
	"syncroom/internal/infrastructure/monitoring"
	signalrelay "syncroom/internal/infrastructure/signal"
	webrtcinfra "syncroom/internal/infrastructure/webrtc"
	"syncroom/internal/participant"
	"syncroom/internal/participant/negotiation"
	"syncroom/pkg/config"
	"syncroom/pkg/logger"
	"syncroom/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagRelayURL    string
	flagRoom        string
	flagID          string
	flagName        string
	flagRole        string
	flagToken       string
	flagMicRTP      string
	flagCameraRTP   string
	flagScreenRTP   string
	flagVideo       string
	flagExport      string
	flagMetricsAddr string
	flagStatusEvery time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and accept commands on stdin",
	Long: `Join a room and accept commands on stdin:

  stroke <json>          commit a whiteboard stroke
  undo | redo | clear    whiteboard history
  edit <language> <text> replace the editor document
  result <output>        publish a code run result
  view <id>              change the shared view (driver only)
  video camera|screen|none
  status                 print roster and link tables
  export <path>          write the whiteboard snapshot (msgpack)
  quit

Examples:
  participant join --room r1 --id alice --role interviewer --token $TOKEN
  participant join --room r1 --id bob --role candidate --camera-rtp 127.0.0.1:5004 --video camera`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" || flagID == "" {
			return errors.New("--room and --id are required")
		}
		return runJoin(cmd)
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagRelayURL, "relay", "", "relay websocket URL (default from config)")
	joinCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "room id")
	joinCmd.Flags().StringVar(&flagID, "id", "", "participant id")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name")
	joinCmd.Flags().StringVar(&flagRole, "role", "candidate", "interviewer, candidate or admin")
	joinCmd.Flags().StringVarP(&flagToken, "token", "t", "", "join token issued by the room API")
	joinCmd.Flags().StringVar(&flagMicRTP, "mic-rtp", "", "UDP address receiving Opus RTP for the audio track")
	joinCmd.Flags().StringVar(&flagCameraRTP, "camera-rtp", "", "UDP address receiving VP8 RTP for the camera")
	joinCmd.Flags().StringVar(&flagScreenRTP, "screen-rtp", "", "UDP address receiving VP8 RTP for the screen share")
	joinCmd.Flags().StringVar(&flagVideo, "video", string(domain.VideoNone), "initial video source")
	joinCmd.Flags().StringVarP(&flagExport, "export", "e", "", "write the whiteboard snapshot here on exit (msgpack)")
	joinCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	joinCmd.Flags().DurationVar(&flagStatusEvery, "status-every", 0, "print status tables periodically")
}

func runJoin(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	zapLogger, err := logger.New(cfg.Logging.Level, "console")
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	role, err := domain.RoleFromInterviewRole(flagRole)
	if err != nil {
		return err
	}
	relayURL := cfg.Participant.RelayURL
	if flagRelayURL != "" {
		relayURL = flagRelayURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collector *monitoring.PrometheusCollector
	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector = monitoring.NewPrometheusCollector(reg)
		srv := serveMetrics(flagMetricsAddr, reg, log)
		defer srv.Close()
	}

	var recorder webrtcinfra.RTCPRecorder
	if collector != nil {
		recorder = collector
	}
	factory, err := webrtcinfra.NewPeerFactory(webrtcinfra.ConfigFromSettings(cfg), recorder, log)
	if err != nil {
		return err
	}

	media, feeds, err := buildMedia(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range feeds {
			f.Close()
		}
	}()

	out := cmd.OutOrStdout()
	hooks := participant.Hooks{
		RosterChanged: func(roster []domain.Participant) {
			log.Infow("roster changed", "members", len(roster))
		},
		LinkStateChanged: func(remote domain.ParticipantID, state domain.NegotiationState) {
			if collector != nil && state != domain.NegotiationOffering && state != domain.NegotiationAnswering {
				collector.RecordNegotiation(string(state))
			}
		},
		VideoUnavailable: func(remote domain.ParticipantID) {
			fmt.Fprintf(out, "video from %s unavailable\n", remote)
		},
		Reconnected: func(n int) {
			log.Infow("rejoined room", "reconnects", n)
		},
	}

	sess := participant.New(participant.Config{
		Room:  domain.RoomID(flagRoom),
		Self:  domain.Participant{ID: domain.ParticipantID(flagID), DisplayName: flagName, Role: role},
		Token: flagToken,

		JoinTimeout:        cfg.Participant.JoinTimeout,
		NegotiationTimeout: cfg.Participant.NegotiationTimeout,
		SyncTimeout:        cfg.Participant.SyncTimeout,
		EditorDebounce:     cfg.Participant.EditorDebounce,
		Reconnect: retry.Config{
			MaxAttempts:  cfg.Participant.ReconnectAttempts,
			InitialDelay: cfg.Participant.ReconnectBackoff,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		Hooks: hooks,
	}, participant.WebSocketDialer(relayURL, clientOptions(cfg)), factory, media, log)

	sess.Board().OnChange(func() {
		log.Debugw("whiteboard changed", "strokes", len(sess.Board().Snapshot()))
	})
	sess.Editor().OnUpdate(func(doc domain.EditorSnapshot) {
		fmt.Fprintf(out, "editor [%s] rev %d by %s\n", doc.Language, doc.Revision, doc.AuthorID)
	})
	sess.Editor().OnResult(func(output string, author domain.ParticipantID) {
		fmt.Fprintf(out, "run result from %s:\n%s\n", author, output)
	})

	joinCtx, joinCancel := context.WithTimeout(ctx, cfg.Participant.JoinTimeout*time.Duration(cfg.Participant.ReconnectAttempts+1))
	err = sess.Join(joinCtx)
	joinCancel()
	if err != nil {
		var rejected *participant.RejectedError
		if errors.As(err, &rejected) {
			return fmt.Errorf("relay refused the join (%s): %s", rejected.Code, rejected.Message)
		}
		return err
	}
	defer sess.Close()

	if view := sess.View(); view != nil {
		view.OnChange(func(state domain.ViewState) {
			fmt.Fprintf(out, "view -> %s (driver %s)\n", state.View, state.Driver)
		})
	}
	if source := domain.VideoSource(flagVideo); source != domain.VideoNone {
		if err := sess.Media().SwitchVideo(source); err != nil {
			log.Warnw("initial video source not available", "source", source, "error", err)
		}
	}

	renderStatus(out, sess, factory)

	if flagStatusEvery > 0 {
		go func() {
			ticker := time.NewTicker(flagStatusEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					renderStatus(out, sess, factory)
				}
			}
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runner := &commandRunner{sess: sess, factory: factory, out: out}
loop:
	for {
		select {
		case <-sigChan:
			break loop
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				return fmt.Errorf("session ended: %w", err)
			}
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			c, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if c.name == cmdQuit {
				break loop
			}
			if err := runner.run(c); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		}
	}

	if flagExport != "" {
		if err := exportBoard(flagExport, domain.RoomID(flagRoom), sess.Board().Snapshot()); err != nil {
			return err
		}
		fmt.Fprintf(out, "whiteboard exported to %s\n", flagExport)
	}
	return nil
}

func clientOptions(cfg *config.Config) signalrelay.ClientOptions {
	opts := signalrelay.DefaultClientOptions()
	opts.WriteTimeout = cfg.Signal.WriteTimeout
	opts.PongTimeout = cfg.Signal.PongTimeout
	opts.PingInterval = cfg.Signal.PingInterval
	return opts
}

// buildMedia wires RTP feeds into the audio and video slots. Without a mic
// feed the audio slot carries a silent sample track.
func buildMedia(ctx context.Context, log *zap.SugaredLogger) (*negotiation.MediaSource, []*webrtcinfra.RTPFeed, error) {
	var feeds []*webrtcinfra.RTPFeed
	start := func(addr string, codec webrtc.RTPCodecCapability, id string) (*webrtcinfra.RTPFeed, error) {
		feed, err := webrtcinfra.ListenRTPFeed(addr, codec, id, flagID, log)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
		go func() {
			if err := feed.Run(ctx); err != nil {
				log.Warnw("rtp feed stopped", "track_id", id, "error", err)
			}
		}()
		log.Infow("listening for RTP", "track_id", id, "address", feed.Addr().String())
		return feed, nil
	}
	vp8 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}

	var audio webrtc.TrackLocal
	if flagMicRTP != "" {
		feed, err := start(flagMicRTP, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic")
		if err != nil {
			return nil, feeds, err
		}
		audio = feed.Track()
	} else {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", flagID)
		if err != nil {
			return nil, feeds, err
		}
		audio = track
	}

	media := negotiation.NewMediaSource(audio, log)
	if flagCameraRTP != "" {
		feed, err := start(flagCameraRTP, vp8, "camera")
		if err != nil {
			return nil, feeds, err
		}
		media.SetSource(domain.VideoCamera, feed.Track())
	}
	if flagScreenRTP != "" {
		feed, err := start(flagScreenRTP, vp8, "screen")
		if err != nil {
			return nil, feeds, err
		}
		media.SetSource(domain.VideoScreen, feed.Track())
	}
	return media, feeds, nil
}

func metricsRouter(reg *prometheus.Registry, log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return router
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.SugaredLogger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(reg, log), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("metrics server stopped", "error", err)
		}
	}()
	return srv
}
