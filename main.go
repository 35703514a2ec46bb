package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"LiveBoard/internal/client"
	"LiveBoard/internal/core"
	"LiveBoard/internal/export"
	lbnet "LiveBoard/internal/net"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/relay"
	"LiveBoard/internal/render"
	"LiveBoard/internal/storage"
	"LiveBoard/internal/ui"

	"github.com/google/uuid"
)

const browseTimeout = 3 * time.Second

var logger = core.Logger("main")

func main() {
	configFile := flag.String("config", "", "path to a TOML configuration file")
	boardFlag := flag.String("board", "", "board id to host (random when empty)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config file] [-board id] [relay | render log.json out.png | %s://host:port/board]\n", os.Args[0], lbnet.Scheme)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configFile != "" {
		if err := core.LoadConfig(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	core.InitializeLogger()
	cfg := core.ReadConfig()
	if cfg.Identity.ParticipantID == "" {
		cfg.Identity.ParticipantID = uuid.NewString()
	}
	if cfg.Identity.DisplayName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Identity.DisplayName = host
		}
	}
	boardID := *boardFlag
	if boardID == "" {
		boardID = uuid.NewString()
	}

	var err error
	args := flag.Args()
	switch {
	case len(args) > 0 && args[0] == "relay":
		err = runRelay(cfg, boardID)
	case len(args) == 3 && args[0] == "render":
		err = renderLog(cfg, args[1], args[2])
	case len(args) > 0 && strings.HasPrefix(args[0], lbnet.Scheme+"://"):
		err = runClient(cfg, args[0])
	case len(args) > 0:
		flag.Usage()
		os.Exit(2)
	default:
		err = runHost(cfg, boardID)
	}
	if err != nil {
		logger.WithError(err).Fatal("exiting")
	}
}

// renderLog rasterizes a saved operation log to a PNG.
func renderLog(cfg core.Config, logPath, pngPath string) error {
	ops, err := export.LoadFile(logPath, cfg.Board.Limits)
	if err != nil {
		return fmt.Errorf("load %s: %w", logPath, err)
	}
	img := render.Render(ops, uint64(len(ops)), cfg.Board.Width, cfg.Board.Height)
	if err := export.SavePNG(pngPath, img); err != nil {
		return err
	}
	logger.WithField("ops", len(ops)).WithField("out", pngPath).Info("rendered board")
	return nil
}

// startRelay opens the configured log store and serves the relay.
func startRelay(ctx context.Context, cfg core.Config) (*relay.Relay, func(), error) {
	store, err := storage.Open(cfg.Relay.Storage.Driver, cfg.Relay.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init %s store: %w", cfg.Relay.Storage.Driver, err)
	}
	r := relay.New(store, relay.Config{Limits: cfg.Board.Limits, PresenceTimeout: cfg.Relay.PresenceTimeout})
	server := relay.NewServer(r, relay.ServerConfig{Bind: cfg.Relay.Bind, Port: cfg.Relay.Port})

	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)
	go func() {
		if err := server.Run(); err != nil {
			logger.WithError(err).Error("relay listener stopped")
		}
	}()
	logger.WithField("driver", cfg.Relay.Storage.Driver).WithField("port", cfg.Relay.Port).Info("relay started")

	stop := func() {
		cancel()
		server.Close()
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("closing store")
		}
	}
	return r, stop, nil
}

func shareLink(cfg core.Config, boardID string) lbnet.ShareLink {
	host, err := lbnet.GetOutgoingIP()
	if err != nil {
		logger.WithError(err).Warn("no outgoing address")
		host = "127.0.0.1"
	}
	return lbnet.ShareLink{Host: host, Port: cfg.Relay.Port, BoardID: boardID}
}

func advertise(cfg core.Config, boardID string) func() {
	if !cfg.Relay.Advertise {
		return func() {}
	}
	server, err := lbnet.Advertise(cfg.Relay.Port, boardID)
	if err != nil {
		logger.WithError(err).Warn("mDNS advertisement failed")
		return func() {}
	}
	return func() { server.Shutdown() }
}

// runRelay serves boards without a window until interrupted.
func runRelay(cfg core.Config, boardID string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, stop, err := startRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()
	defer advertise(cfg, boardID)()

	logger.WithField("link", shareLink(cfg, boardID).String()).Info("share this link")
	<-ctx.Done()
	return nil
}

// runHost starts a relay and draws on it in process.
func runHost(cfg core.Config, boardID string) error {
	ctx := context.Background()
	r, stop, err := startRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()
	defer advertise(cfg, boardID)()

	dial := func(context.Context, string) (protocol.Link, error) {
		return relay.NewLocalTransport(r), nil
	}
	link := shareLink(cfg, boardID)
	logger.WithField("link", link.String()).Info("starting as host")
	return runBoard(ctx, cfg, dial, link)
}

// runClient joins the board of a share link. A link without a host is
// resolved over mDNS.
func runClient(cfg core.Config, raw string) error {
	link, err := lbnet.ParseShareLink(raw)
	if err != nil {
		return err
	}
	if link.Host == "" {
		link, err = discover(link.BoardID)
		if err != nil {
			return err
		}
	}
	redial := lbnet.RedialConfig{InitialInterval: cfg.Sync.InitialBackoff, MaxInterval: cfg.Sync.MaxBackoff}
	dial := func(ctx context.Context, _ string) (protocol.Link, error) {
		return lbnet.DialRelay(ctx, link.RelayURL(), redial)
	}
	logger.WithField("link", link.String()).Info("starting as client")
	return runBoard(context.Background(), cfg, dial, link)
}

func discover(boardID string) (lbnet.ShareLink, error) {
	relays, err := lbnet.Browse(browseTimeout)
	if err != nil {
		logger.WithError(err).Warn("mDNS browse")
	}
	for _, r := range relays {
		if r.BoardID == boardID {
			return r.Link(), nil
		}
	}
	return lbnet.ShareLink{}, fmt.Errorf("no relay on the local network hosts board %s", boardID)
}

func runBoard(ctx context.Context, cfg core.Config, dial client.Dialer, link lbnet.ShareLink) error {
	board := ui.NewBoardWidget()
	c := client.New(client.OptionsFromConfig(cfg), dial, board.Callbacks())
	board.Attach(c)

	open := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Sync.SnapshotTimeout)
		defer cancel()
		return c.OpenBoard(dialCtx, link.BoardID)
	}
	return ui.RunApp(link.String(), board, open, func() {
		if err := c.CloseBoard(); err != nil {
			logger.WithError(err).Warn("closing board")
		}
	})
}
