// Command posclient is a terminal stand-in for the POS app. It logs in, keeps
// the session alive through the interceptors, and reads lifecycle events from
// stdin:
//
//	tap | fg | bg          feed the inactivity and background timers
//	orders | whoami        call the backend
//	order <table> <food>   place an order
//	login | logout | quit
//
// With POS_BASE_URL unset it starts an in-process demo backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/panyam/possession"
	"github.com/panyam/possession/activity"
	"github.com/panyam/possession/client"
	"github.com/panyam/possession/internal/config"
	"github.com/panyam/possession/internal/fakebackend"
	"github.com/panyam/possession/internal/logging"
	"github.com/panyam/possession/stores"
	"github.com/panyam/possession/stores/fs"
	"github.com/rs/zerolog/log"
)

var (
	username = flag.String("user", "cashier", "staff username")
	password = flag.String("password", "password123", "staff password")
	tokenTTL = flag.Duration("demo-token-ttl", 30*time.Second, "access token lifetime of the demo backend")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("posclient stopped")
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL := c.GetBaseURL()
	if baseURL == "" {
		url, shutdown, err := startDemoBackend()
		if err != nil {
			return err
		}
		defer shutdown()
		baseURL = url
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	store.Subscribe(func(ev possession.Event) {
		if ev.Kind == possession.SessionCleared {
			fmt.Println("session ended, type 'login' to sign in again")
		}
	})

	pos := client.NewAuthClient(baseURL, store,
		client.WithLoginPath(c.GetLoginPath()),
		client.WithRefreshPath(c.GetRefreshPath()),
		client.WithAuthenticatorOptions(
			client.WithExpiryMargin(c.GetExpiryMargin()),
			client.WithClearOnUnrelatedFailure(c.GetClearOnError()),
		),
	)

	guard := activity.NewGuard(store,
		activity.WithInactivityTimeout(c.GetInactivityTimeout()),
		activity.WithGracePeriod(c.GetBackgroundGrace()),
	)
	defer guard.Close()

	if !store.IsAuthenticated() {
		if err := login(ctx, pos); err != nil {
			log.Warn().Err(err).Msg("login failed")
		}
	}

	events := make(chan activity.Event)
	go guard.Run(ctx, events)
	return repl(ctx, pos, events, os.Stdin)
}

func openStore(c config.Config) (*possession.Store, error) {
	var opts []fs.Option
	if key := c.GetSessionKey(); key != "" {
		sealer, err := stores.NewSealer(key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fs.WithSealer(sealer))
	}

	persister, err := fs.NewPersister(c.GetSessionFile(), "posclient", opts...)
	if err != nil {
		return nil, err
	}

	store := possession.NewStore(possession.WithPersister(persister))
	if err := store.Restore(); err != nil {
		log.Warn().Err(err).Str("path", persister.Path()).Msg("ignoring saved session")
	}
	return store, nil
}

func startDemoBackend() (string, func(), error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to start demo backend: %w", err)
	}

	server := &http.Server{
		Handler:           fakebackend.New(fakebackend.WithAccessTTL(*tokenTTL)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("demo backend stopped")
		}
	}()

	url := "http://" + listener.Addr().String()
	log.Info().Str("url", url).Dur("token_ttl", *tokenTTL).Msg("demo backend listening")
	return url, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

func login(ctx context.Context, pos *client.AuthClient) error {
	b, err := pos.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s at %s\n", b.Identity.UserName, b.Identity.RestaurantName)
	return nil
}

func repl(ctx context.Context, pos *client.AuthClient, events chan<- activity.Event, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, pos, events, strings.Fields(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, pos *client.AuthClient, events chan<- activity.Event, args []string) (quit bool) {
	if len(args) == 0 {
		return false
	}

	if kind, err := activity.ParseEventKind(args[0]); err == nil {
		send(ctx, events, activity.Event{Kind: kind})
		return false
	}

	// Any command is an interaction too.
	send(ctx, events, activity.Event{Kind: activity.Interaction})

	switch args[0] {
	case "quit", "exit":
		return true
	case "login":
		if err := login(ctx, pos); err != nil {
			fmt.Println("login failed:", err)
		}
	case "logout":
		pos.Logout()
	case "orders", "whoami":
		show(pos.Get(ctx, "/api/"+args[0]))
	case "order":
		if len(args) < 3 {
			fmt.Println("usage: order <table> <food_id> [qty]")
			return false
		}
		show(placeOrder(ctx, pos, args[1:]))
	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	return false
}

func send(ctx context.Context, events chan<- activity.Event, ev activity.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func placeOrder(ctx context.Context, pos *client.AuthClient, args []string) (*http.Response, error) {
	table, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid table %q", args[0])
	}
	qty := 1
	if len(args) > 2 {
		if qty, err = strconv.Atoi(args[2]); err != nil {
			return nil, fmt.Errorf("invalid quantity %q", args[2])
		}
	}

	body := fmt.Sprintf(`{"table":%d,"items":[{"food_id":%q,"qty":%d}]}`, table, args[1], qty)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pos.ServerURL()+"/api/orders", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return pos.Do(req)
}

func show(resp *http.Response, err error) {
	if err != nil {
		if errors.Is(err, possession.ErrRefreshFailed) || errors.Is(err, possession.ErrNoRefreshToken) {
			fmt.Println("session expired:", err)
			return
		}
		fmt.Println("request failed:", err)
		return
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	fmt.Printf("%d %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
