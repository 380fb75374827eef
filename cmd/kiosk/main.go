package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"golang.org/x/term"

	"studyhall/internal/apiclient"
	"studyhall/internal/classifier"
	"studyhall/internal/config"
	"studyhall/internal/kiosk"
	"studyhall/internal/logger"
)

const ctrlC = 0x03

// Kiosk runs the seat board on the terminal the card reader types into.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.Env)
	log := logger.Log

	// The board owns the terminal; logs go to a file.
	logFile, err := os.OpenFile("kiosk.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("open kiosk.log: %v", err)
	}
	defer logFile.Close()
	logger.SetOutput(logFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			log.Fatalf("set terminal raw mode: %v", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChannel
		cancel()
	}()

	clk := clockwork.NewRealClock()
	api := apiclient.New(cfg.APIBaseURL, cfg.ReaderID, cfg.RequestTimeout)
	k := kiosk.New(api, kiosk.Options{
		AdminCredential: cfg.AdminCredential,
		Gap:             cfg.ScanGapThreshold,
		SessionTTL:      cfg.AdminSessionTTL,
		PollInterval:    cfg.PollInterval,
		Timeout:         cfg.RequestTimeout,
		Clock:           clk,
		Log:             log.WithField("reader", cfg.ReaderID),
		Out:             os.Stdout,
	})

	keys := make(chan classifier.KeyEvent, 64)
	go readKeys(os.Stdin, clk, keys, cancel)

	log.WithField("api", cfg.APIBaseURL).Info("kiosk started")
	k.Run(ctx, keys)
	io.WriteString(os.Stdout, "\r\n")
	log.Info("kiosk stopped")
}

// readKeys forwards runes from r stamped with the time they were read, so
// the classifier sees reader timing even if the kiosk falls behind. Raw
// mode swallows SIGINT, so Ctrl-C is handled here.
func readKeys(r io.Reader, clk clockwork.Clock, keys chan<- classifier.KeyEvent, stop context.CancelFunc) {
	defer close(keys)
	br := bufio.NewReader(r)
	for {
		ch, _, err := br.ReadRune()
		if err != nil {
			stop()
			return
		}
		if ch == ctrlC {
			stop()
			return
		}
		keys <- classifier.KeyEvent{Key: ch, At: clk.Now()}
	}
}
