package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/identity"
)

func main() {
	base := flag.String("url", "http://localhost:8080", "Server base URL")
	secret := flag.String("secret", "", "JWT secret shared with the server")
	prefix := flag.String("prefix", "user", "Prefix of seeded user ids (see cmd/seed)")
	users := flag.Int("users", 10, "Number of seeded users; paired into conversations")
	messages := flag.Int("messages", 10, "Messages per user")
	flag.Parse()

	if *secret == "" {
		log.Fatal("-secret is required")
	}
	issuer, err := identity.NewJWT([]byte(*secret), time.Hour)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	log.Printf("Load test: %d users, %d messages each", *users, *messages)

	var (
		connected int64
		sent      int64
		received  int64
		errs      int64
		latencies []time.Duration
		latencyMu sync.Mutex
		sentAt    sync.Map
		wg        sync.WaitGroup
	)

	start := time.Now()

	for p := 0; p+1 < *users; p += 2 {
		wg.Add(1)
		go func(a, b string) {
			defer wg.Done()

			tokA, _ := issuer.IssueToken(a)
			tokB, _ := issuer.IssueToken(b)
			res, err := post(*base+"/chat", tokA, map[string]string{"recipientId": b})
			if err != nil || res.Error {
				atomic.AddInt64(&errs, 1)
				log.Printf("%s: create conversation: %v %s", a, err, res.Message)
				return
			}
			convID := res.ConversationID

			var pair sync.WaitGroup
			for _, u := range []struct{ id, token string }{{a, tokA}, {b, tokB}} {
				pair.Add(1)
				go func(user, token string) {
					defer pair.Done()

					wsURL := "ws" + strings.TrimPrefix(*base, "http") + "/ws?token=" + token
					conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
					if err != nil {
						atomic.AddInt64(&errs, 1)
						log.Printf("%s: dial error: %v", user, err)
						return
					}
					defer conn.Close()
					atomic.AddInt64(&connected, 1)

					join, _ := json.Marshal(domain.Event{Type: domain.EventJoinRoom, ConversationID: convID})
					conn.WriteMessage(websocket.TextMessage, join)

					done := make(chan struct{})
					go func() {
						defer close(done)
						for {
							_, data, err := conn.ReadMessage()
							if err != nil {
								return
							}
							var ev domain.ChatUpdateEvent
							if json.Unmarshal(data, &ev) != nil || ev.Type != domain.EventChatUpdate || len(ev.Messages) == 0 {
								continue
							}
							atomic.AddInt64(&received, 1)
							last := ev.Messages[len(ev.Messages)-1].Content
							if t0, ok := sentAt.Load(user + "|" + last); ok {
								latencyMu.Lock()
								latencies = append(latencies, time.Since(t0.(time.Time)))
								latencyMu.Unlock()
							}
						}
					}()
					time.Sleep(100 * time.Millisecond)

					for j := 0; j < *messages; j++ {
						content := fmt.Sprintf("msg %d from %s", j, user)
						now := time.Now()
						sentAt.Store(a+"|"+content, now)
						sentAt.Store(b+"|"+content, now)
						res, err := post(*base+"/chat/"+convID, token, map[string]string{"content": content})
						if err != nil || res.Error {
							atomic.AddInt64(&errs, 1)
							continue
						}
						atomic.AddInt64(&sent, 1)
						time.Sleep(10 * time.Millisecond)
					}

					// Wait a bit for remaining updates.
					time.Sleep(500 * time.Millisecond)
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					<-done
				}(u.id, u.token)
			}
			pair.Wait()
		}(fmt.Sprintf("%s_%d", *prefix, p), fmt.Sprintf("%s_%d", *prefix, p+1))
	}

	wg.Wait()
	elapsed := time.Since(start)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Clients:     %d connected\n", connected)
	fmt.Printf("Sent:        %d messages\n", sent)
	fmt.Printf("Received:    %d updates\n", received)
	fmt.Printf("Errors:      %d\n", errs)
	if len(latencies) > 0 {
		fmt.Printf("Latency p50: %s\n", percentile(latencies, 50))
		fmt.Printf("Latency p95: %s\n", percentile(latencies, 95))
		fmt.Printf("Latency p99: %s\n", percentile(latencies, 99))
	}
	fmt.Printf("Throughput:  %.0f msgs/sec\n", float64(sent)/elapsed.Seconds())
}

func post(url, token string, body any) (domain.Result, error) {
	var res domain.Result
	data, err := json.Marshal(body)
	if err != nil {
		return res, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return res, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&res)
	return res, err
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
