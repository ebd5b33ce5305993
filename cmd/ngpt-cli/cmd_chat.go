package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ngpt-server/internal/client"
	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/tokenizer"
	"ngpt-server/internal/domain/trimmer"
	"ngpt-server/internal/utils/platformerrors"
)

const maxImageBytes = 20 << 20

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the relay",
	Long: `Send a prompt and stream the answer. Without a prompt, chat reads one prompt per line
from stdin until EOF. Ctrl-C stops the answer in progress and exits when nothing is streaming.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("image", "", "Attach an image file to the first prompt")
	chatCmd.Flags().String("conversation", "", "Continue the conversation with this id")
	chatCmd.Flags().Bool("new", false, "Start a new conversation")
}

func runChat(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	fileStore := client.NewFileStore(opts.StoreFile)
	state, err := fileStore.Load(ctx)
	if err != nil {
		return err
	}
	store := client.NewStore(state)
	unsubscribe := client.PersistOnChange(store, fileStore, log)
	defer unsubscribe()

	conv, err := pickConversation(cmd, store)
	if err != nil {
		return err
	}

	session := client.NewSession(client.SessionOptions{
		Relay:   newRelayClient(log),
		Tokens:  client.StaticToken(opts.Token),
		Trimmer: trimmer.New(newEstimator(log), trimmer.BoundaryStrict, log),
		Budget:  opts.Budget,
		OnDone: func(turns []client.Turn) {
			if err := store.RecordTurns(conv.ID, turns); err != nil {
				log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("failed to record turns")
			}
		},
		Log: log,
	}, conv.Turns)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-interrupts:
				if session.Streaming() {
					session.Cancel()
					continue
				}
				// idle: nothing to stop, so leave
				fmt.Fprintln(cmd.ErrOrStderr())
				os.Exit(130)
			}
		}
	}()

	imagePath, _ := cmd.Flags().GetString("image")
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		content, err := promptContent(strings.Join(args, " "), imagePath)
		if err != nil {
			return err
		}
		return ask(ctx, session, content, out, cmd.ErrOrStderr())
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(cmd.ErrOrStderr(), "> ")
		if !scanner.Scan() {
			fmt.Fprintln(cmd.ErrOrStderr())
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		content, err := promptContent(line, imagePath)
		imagePath = ""
		if err != nil {
			return err
		}
		if err := ask(ctx, session, content, out, cmd.ErrOrStderr()); err != nil {
			if !isRelayRejection(err) {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "relay: %s\n", platformerrors.GetPlatformError(err).Message)
		}
	}
}

func ask(ctx context.Context, session *client.Session, content chat.Content, out, errOut io.Writer) error {
	result, err := session.Submit(ctx, content, func(chunk string) {
		fmt.Fprint(out, chunk)
	})
	fmt.Fprintln(out)
	if result.Outcome == client.OutcomeCancelled {
		fmt.Fprintln(errOut, "[stopped]")
	}
	return err
}

func pickConversation(cmd *cobra.Command, store *client.Store) (client.Conversation, error) {
	if id, _ := cmd.Flags().GetString("conversation"); id != "" {
		if err := store.Select(id); err != nil {
			return client.Conversation{}, fmt.Errorf("select conversation %s: %w", id, err)
		}
	} else if fresh, _ := cmd.Flags().GetBool("new"); fresh {
		store.StartConversation()
	}

	if conv, ok := store.Current(); ok {
		return conv, nil
	}
	return store.StartConversation(), nil
}

// newEstimator prefers the BPE vocabulary and falls back to the character heuristic.
func newEstimator(log zerolog.Logger) tokenizer.Estimator {
	estimator, err := tokenizer.NewBPEEstimator(opts.Encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", opts.Encoding).Msg("BPE vocabulary unavailable, using heuristic estimator")
		return tokenizer.NewHeuristicEstimator()
	}
	return estimator
}

func promptContent(text, imagePath string) (chat.Content, error) {
	if imagePath == "" {
		return chat.TextContent(text), nil
	}
	dataURL, err := imageDataURL(imagePath)
	if err != nil {
		return chat.Content{}, err
	}
	return chat.MultimodalContent(text, dataURL), nil
}

// imageDataURL inlines the file at path as a base64 data URL.
func imageDataURL(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image %s is larger than %d MB", path, maxImageBytes>>20)
	}

	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mediaType)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// isRelayRejection reports errors that end one prompt but leave the session usable.
func isRelayRejection(err error) bool {
	var pe *platformerrors.PlatformError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Type {
	case platformerrors.ErrorTypeValidation, platformerrors.ErrorTypeExternal:
		return true
	}
	return false
}
