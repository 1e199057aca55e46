package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/machamire/ndeip-core/internal/call"
	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/signal"
)

// memHistory keeps call records locally; the client has no database.
type memHistory struct {
	mu      sync.Mutex
	records []*db.CallRecord
}

func (h *memHistory) AppendCallRecord(_ context.Context, rec *db.CallRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.ID == rec.ID {
			return nil
		}
	}
	cp := *rec
	h.records = append(h.records, &cp)
	return nil
}

func (h *memHistory) GetCallsForParticipant(context.Context, uuid.UUID, int, int) ([]*db.CallRecord, error) {
	return nil, nil
}

func (h *memHistory) DeleteCallRecord(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (h *memHistory) all() []*db.CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*db.CallRecord, len(h.records))
	copy(out, h.records)
	return out
}

func main() {
	v := viper.New()
	v.SetDefault("broker", "tcp://localhost:1883")
	v.SetDefault("qos", 1)
	v.AutomaticEnv()
	v.SetEnvPrefix("NDEIP")

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           log.InfoLevel,
	})

	selfID := uuid.New()
	if raw := v.GetString("user_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			logger.Fatal("Invalid NDEIP_USER_ID", "error", err)
		}
		selfID = parsed
	}

	broker := v.GetString("broker")
	qos := byte(v.GetInt("qos"))

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("ndeip-client-" + selfID.String()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to broker", "broker", broker, "error", token.Error())
	}
	defer client.Disconnect(250)

	logger.Info("Connected to broker", "broker", broker)
	logger.Info("Your id", "user_id", selfID)

	hub := signal.NewHub(signal.NewMQTTTransport(client, qos), logger)
	history := &memHistory{}

	manager, err := call.NewManager(selfID, hub, history, call.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create call manager", "error", err)
	}
	defer manager.Close()

	// Tracks the call the REPL commands act on.
	var mu sync.Mutex
	var currentCall uuid.UUID

	manager.OnIncoming(func(in *call.IncomingCall) {
		mu.Lock()
		currentCall = in.CallID
		mu.Unlock()
		fmt.Printf("\n*** Incoming %s call from %s — type 'answer' or 'decline'\n> ", in.Type, in.From)
	})

	manager.Subscribe(func(ev call.Event) {
		if ev.Record != nil {
			fmt.Printf("\n*** Call %s: %s (%ds)\n> ", ev.CallID, ev.Record.FinalStatus, ev.Record.DurationSecs)
			return
		}
		fmt.Printf("\n*** Call %s: %s\n> ", ev.CallID, ev.State)
	})

	printHelp()
	interactiveLoop(manager, history, &mu, &currentCall, logger)
}

func printHelp() {
	fmt.Println(`Commands:
  call <user-id> [video]  - start a voice (or video) call
  answer                  - answer the ringing call
  decline                 - decline the ringing call
  end                     - hang up the current call
  mute / speaker / video  - toggle the local control
  status                  - show the current call snapshot
  history                 - list finished calls from this run
  quit                    - exit`)
}

func interactiveLoop(manager *call.Manager, history *memHistory, mu *sync.Mutex, currentCall *uuid.UUID, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		mu.Lock()
		callID := *currentCall
		mu.Unlock()

		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <user-id> [video]")
				break
			}
			remoteID, err := uuid.Parse(fields[1])
			if err != nil {
				fmt.Println("invalid user id:", err)
				break
			}
			callType := db.CallTypeVoice
			if len(fields) > 2 && fields[2] == "video" {
				callType = db.CallTypeVideo
			}
			sess, err := manager.StartCall(context.Background(), remoteID, callType)
			if err != nil {
				logger.Error("Failed to start call", "error", err)
				break
			}
			mu.Lock()
			*currentCall = sess.CallID()
			mu.Unlock()

		case "answer":
			if err := manager.AnswerCall(callID); err != nil {
				fmt.Println("answer:", err)
			}

		case "decline":
			if _, err := manager.DeclineCall(callID); err != nil {
				fmt.Println("decline:", err)
			}

		case "end":
			if _, err := manager.EndCall(callID); err != nil {
				fmt.Println("end:", err)
			}

		case "mute":
			if _, err := manager.ToggleMute(callID); err != nil {
				fmt.Println("mute:", err)
			}

		case "speaker":
			if _, err := manager.ToggleSpeaker(callID); err != nil {
				fmt.Println("speaker:", err)
			}

		case "video":
			if _, err := manager.ToggleVideo(callID); err != nil {
				fmt.Println("video:", err)
			}

		case "status":
			sess, ok := manager.Session(callID)
			if !ok {
				fmt.Println("no active call")
				break
			}
			snap := sess.Snapshot()
			fmt.Printf("call %s with %s: %s (muted=%v speaker=%v video=%v)\n",
				snap.CallID, snap.RemoteID, snap.State,
				snap.Controls.Muted, snap.Controls.SpeakerOn, snap.Controls.VideoEnabled)

		case "history":
			records := history.all()
			if len(records) == 0 {
				fmt.Println("no finished calls yet")
			}
			for _, rec := range records {
				fmt.Printf("%s  %s -> %s  %s  %ds\n",
					rec.StartedAt.Format("15:04:05"), rec.CallerID, rec.CalleeID,
					rec.FinalStatus, rec.DurationSecs)
			}

		case "quit", "exit":
			return

		case "help":
			printHelp()

		default:
			fmt.Println("unknown command:", fields[0])
		}

		fmt.Print("> ")
	}
}
