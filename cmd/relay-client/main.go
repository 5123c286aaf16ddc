// relay-client is a manual test client for the browser WebSocket endpoint. It
// sends one text turn and optionally a raw 16 kHz PCM16 file, prints text and
// turn boundaries, and writes any audio it receives.
package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/room4-2/liverelay/messages"
)

// 100ms of 16 kHz PCM16
const audioChunkSize = 3200

type options struct {
	url       string
	text      string
	audioFile string
	out       string
	wait      time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("relay-client", pflag.ContinueOnError)
	flagSet.StringVar(&opts.url, "url", "", "WebSocket endpoint (default ws://localhost:8080/ws/<random id>)")
	flagSet.StringVar(&opts.text, "text", "Hello! Say hi back in one sentence.", "text turn to send")
	flagSet.StringVar(&opts.audioFile, "audio-file", "", "raw 16 kHz mono PCM16 file to stream")
	flagSet.StringVar(&opts.out, "out", "", "write received PCM audio to this file")
	flagSet.DurationVar(&opts.wait, "wait", 30*time.Second, "give up after this long without a turn boundary")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.url == "" {
		audio := "false"
		if opts.audioFile != "" || opts.out != "" {
			audio = "true"
		}
		opts.url = "ws://localhost:8080/ws/" + uuid.NewString() + "?is_audio=" + audio
	}

	conn, _, err := websocket.DefaultDialer.Dial(opts.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()
	fmt.Fprintf(os.Stderr, "connected to %s\n", opts.url)

	var out *os.File
	if opts.out != "" {
		if out, err = os.Create(opts.out); err != nil {
			return err
		}
		defer out.Close()
	}

	done := make(chan error, 1)
	go func() { done <- receive(conn, out) }()

	if opts.text != "" {
		if err := send(conn, messages.ClientFrame{MimeType: messages.MimeTextPlain, Data: opts.text}); err != nil {
			return err
		}
	}
	if opts.audioFile != "" {
		if err := streamAudio(conn, opts.audioFile); err != nil {
			return err
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case err := <-done:
		return err
	case <-interrupt:
		return nil
	case <-time.After(opts.wait):
		return fmt.Errorf("no turn boundary after %s", opts.wait)
	}
}

func send(conn *websocket.Conn, msg messages.ClientFrame) error {
	data, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func streamAudio(conn *websocket.Conn, path string) error {
	pcm, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for start := 0; start < len(pcm); start += audioChunkSize {
		end := min(start+audioChunkSize, len(pcm))
		err := send(conn, messages.ClientFrame{
			MimeType: messages.MimeAudioPCM,
			Data:     base64.StdEncoding.EncodeToString(pcm[start:end]),
		})
		if err != nil {
			return err
		}
		// real time pacing
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "sent %d bytes of audio\n", len(pcm))
	return nil
}

// receive prints frames until the first turn boundary
func receive(conn *websocket.Conn, out *os.File) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame struct {
			messages.ClientFrame
			messages.ControlFrame
			Error string `json:"error"`
		}
		if err := sonic.ConfigStd.Unmarshal(data, &frame); err != nil {
			fmt.Fprintf(os.Stderr, "unreadable frame: %s\n", data)
			continue
		}

		switch {
		case frame.Error != "":
			return errors.New(frame.Error)
		case frame.MimeType == messages.MimeTextPlain:
			fmt.Print(frame.Data)
		case frame.MimeType == messages.MimeAudioPCM:
			pcm, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil {
				continue
			}
			if out != nil {
				if _, err := out.Write(pcm); err != nil {
					return err
				}
			}
		case frame.TurnComplete || frame.Interrupted:
			fmt.Printf("\n[turn_complete=%v interrupted=%v]\n", frame.TurnComplete, frame.Interrupted)
			return nil
		}
	}
}
