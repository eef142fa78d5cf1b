// Command janusd is the gateway daemon: it wires the profile store,
// the secrets vault, and the RDP session engine together and serves
// the WebSocket bridge over TLS.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/xBounceIT/janus/bridge"
	"github.com/xBounceIT/janus/certs"
	"github.com/xBounceIT/janus/rdp"
	"github.com/xBounceIT/janus/store"
	"github.com/xBounceIT/janus/vault"
)

var version = "dev"

// fileConfig is the optional YAML config file. Flags and environment
// variables override it.
type fileConfig struct {
	Listen    string `yaml:"listen"`
	DBPath    string `yaml:"db"`
	VaultPath string `yaml:"vault"`
}

func main() {
	var (
		configPath = pflag.String("config", "", "path to a YAML config file")
		listen     = pflag.String("listen", "", "bridge listen address (default :8443)")
		dbPath     = pflag.String("db", "", "profile database path (default janus.db)")
		vaultPath  = pflag.String("vault", "", "vault file path (default vault.json)")
		debug      = pflag.Bool("debug", false, "enable debug logging")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var fc fileConfig
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			slog.Error("failed to read config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			slog.Error("failed to parse config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	listenAddr := resolve(*listen, "JANUSD_LISTEN", fc.Listen, ":8443")
	db := resolve(*dbPath, "JANUSD_DB", fc.DBPath, "janus.db")
	vaultFile := resolve(*vaultPath, "JANUSD_VAULT", fc.VaultPath, "vault.json")

	st, err := store.NewSQLiteStore(db)
	if err != nil {
		slog.Error("failed to open profile store", "path", db, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	v := vault.New(vaultFile)
	if err := openVault(v); err != nil {
		slog.Error("failed to open vault", "path", vaultFile, "error", err)
		os.Exit(1)
	}
	defer v.Lock()

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	manager := rdp.NewManager(slog.Default())
	br := bridge.NewServer(manager, st, v, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/ws", br)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert.TLSCert},
			MinVersion:   tls.VersionTLS12,
		},
	}

	slog.Info("janusd starting",
		"version", version,
		"listen", listenAddr,
		"db", db,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openVault initializes the vault on first run, then unlocks it. The
// passphrase comes from JANUSD_VAULT_PASSPHRASE when set (service
// deployments), otherwise from an interactive prompt.
func openVault(v *vault.Vault) error {
	if !v.IsInitialized() {
		pass, err := readPassphrase("New vault passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}
		if err := v.Init(pass); err != nil {
			return err
		}
		slog.Info("vault initialized")
		return v.Unlock(pass)
	}

	pass, err := readPassphrase("Vault passphrase: ")
	if err != nil {
		return err
	}
	return v.Unlock(pass)
}

func readPassphrase(prompt string) (string, error) {
	if pass := os.Getenv("JANUSD_VAULT_PASSPHRASE"); pass != "" {
		return pass, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("stdin is not a terminal and JANUSD_VAULT_PASSPHRASE is not set")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(raw), nil
}

// resolve picks the first non-empty setting: explicit flag, environment
// variable, config file value, built-in default.
func resolve(flagVal, envKey, fileVal, fallback string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return fallback
}
