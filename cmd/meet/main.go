// Meet is the CLI entry point for a conference session.
//
// It joins (or creates) a room on a signal relay, announces itself, and builds
// one direct WebRTC connection per remote participant. Media flows peer to
// peer; the relay carries signaling only.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-relay, -room, -name, -role, -audio-off, -video-off, -no-media).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/1ureka/1ureka.net.meet/internal/chat"
	"github.com/1ureka/1ureka.net.meet/internal/config"
	"github.com/1ureka/1ureka.net.meet/internal/event"
	"github.com/1ureka/1ureka.net.meet/internal/media"
	"github.com/1ureka/1ureka.net.meet/internal/peer"
	"github.com/1ureka/1ureka.net.meet/internal/relay"
	"github.com/1ureka/1ureka.net.meet/internal/room"
	"github.com/1ureka/1ureka.net.meet/internal/util"
)

var version = "dev"

const roomCodeLength = 7

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	relayFlag := flag.String("relay", "", "Relay URL (e.g. wss://relay.example)")
	roomFlag := flag.String("room", "", "Room code to join; empty creates a new room")
	nameFlag := flag.String("name", "", "Display name")
	roleFlag := flag.String("role", "attendee", "Role: host, attendee or observer")
	audioOff := flag.Bool("audio-off", false, "Join with microphone muted")
	videoOff := flag.Bool("video-off", false, "Join with camera disabled")
	noMedia := flag.Bool("no-media", false, "Skip capture entirely (receive-only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Meet v%s", version))
	pterm.Println()

	role, err := parseRole(*roleFlag)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	cfg := config.Config{
		RelayURL: strings.TrimSpace(*relayFlag),
		RoomCode: strings.ToUpper(strings.TrimSpace(*roomFlag)),
		Name:     strings.TrimSpace(*nameFlag),
		Role:     role,
		AudioOff: *audioOff,
		VideoOff: *videoOff,
		NoMedia:  *noMedia,
	}

	// Missing essentials fall back to interactive prompts.
	if cfg.RelayURL == "" {
		cfg.RelayURL = askRelayURL()
	}
	if cfg.Name == "" {
		cfg.Name = askName()
	}
	if cfg.RoomCode == "" {
		cfg.RoomCode = util.RoomCode(roomCodeLength)
		cfg.Role = event.RoleHost
		util.LogSuccess("created room %s, share this code to invite others", cfg.RoomCode)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("left the room")
}

// run builds the full session and blocks until interrupted or the relay
// session ends for good.
func run(ctx context.Context, cfg config.Config) error {
	stats := &util.Stats{}

	// Capture first: the peer layer's media engine carries the capture codecs.
	mediaCtrl := media.NewController()
	defer mediaCtrl.Close()
	if !cfg.NoMedia {
		err := mediaCtrl.StartCapture(media.CaptureOptions{
			Audio: !cfg.AudioOff,
			Video: !cfg.VideoOff,
		})
		switch {
		case errors.Is(err, media.ErrCaptureUnsupported):
			util.LogWarning("no capture backend on this platform, joining receive-only")
		case err != nil:
			util.LogWarning("capture failed (%v), joining receive-only", err)
		}
	}

	client, err := relay.Dial(ctx, cfg.RelayURL, cfg.RoomCode)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	chatLog := chat.NewLog()
	coord, err := room.NewCoordinator(room.Config{
		Bus:  client,
		Chat: chatLog,
		Self: room.Participant{
			Key:          uuid.New().String(),
			Name:         cfg.Name,
			Role:         cfg.Role,
			AudioEnabled: !cfg.AudioOff,
			VideoEnabled: !cfg.VideoOff,
		},
	})
	if err != nil {
		return err
	}

	mgr, err := peer.NewManager(peer.Config{
		Signaler:    coord,
		EngineSetup: mediaCtrl.EngineSetup(),
		Stats:       stats,
		OnRemoteStream: func(key string, s *peer.RemoteStream) {
			util.LogSuccess("receiving media from %s (%d tracks)", key, len(s.Tracks()))
		},
		OnPeerClosed: func(key string, err error) {
			util.LogWarning("connection with %s ended: %v", key, err)
		},
	})
	if err != nil {
		return err
	}
	coord.SetPeerService(mgr)

	// Current stream now, every replacement later.
	mgr.SetLocalStream(mediaCtrl.Stream())
	mediaCtrl.OnChange(func(s *media.Stream) { mgr.SetLocalStream(s) })

	coord.OnRoster(func(change room.RosterChange, p room.Participant) {
		if change == room.RosterUpdate {
			util.LogDebug("%s status: audio=%t video=%t hand=%t",
				p.Name, p.AudioEnabled, p.VideoEnabled, p.HandRaised)
		}
	})
	chatLog.OnMessage(func(m chat.Message) {
		if m.SenderID != coord.Self().Key {
			pterm.Println(pterm.Cyan(fmt.Sprintf("[%s] %s", m.SenderName, m.Content)))
		}
	})
	coord.OnState(func(s relay.State) {
		if s == relay.StateDisconnected {
			util.LogWarning("signaling degraded, existing calls continue")
		}
	})

	stats.StartReporter(ctx)

	if err := coord.AnnounceJoin(); err != nil {
		return fmt.Errorf("join announcement: %w", err)
	}
	util.LogSuccess("joined room %s as %s (%s)", cfg.RoomCode, cfg.Name, cfg.Role)

	select {
	case <-ctx.Done():
	case <-client.Done():
	}
	return coord.Leave()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func parseRole(raw string) (event.Role, error) {
	switch event.Role(strings.ToLower(strings.TrimSpace(raw))) {
	case event.RoleHost:
		return event.RoleHost, nil
	case event.RoleAttendee, "":
		return event.RoleAttendee, nil
	case event.RoleObserver:
		return event.RoleObserver, nil
	}
	return "", fmt.Errorf("invalid -role: must be 'host', 'attendee' or 'observer'")
}

// askRelayURL prompts for a relay URL until a plausible one is entered.
func askRelayURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example)").
			Show()

		raw = strings.TrimSpace(raw)
		if raw != "" {
			pterm.Println()
			return raw
		}

		util.LogWarning("relay URL is required")
		pterm.Println()
	}
}

// askName prompts for a display name until a non-empty one is entered.
func askName() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Display name").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}

		util.LogWarning("a display name is required")
		pterm.Println()
	}
}
