// feed-simulator serves synthetic indicator feeds for local development and
// optionally drains the pipeline's SSE stream, reporting the delivery rate.
//
// Point FEEDS_CONFIG_PATH at a feeds file referencing this process, e.g.:
//
//	feeds:
//	  - {name: sim-a, url: "http://localhost:9000/iplist", format: iplist, risk: abusive-source}
//	  - {name: sim-b, url: "http://localhost:9000/csv", format: csv, risk: botnet-c2}
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", ":9000", "Address to serve synthetic feeds on")
	count := flag.Int("n", 200, "IPs per feed payload")
	churn := flag.Float64("churn", 0.2, "Fraction of IPs replaced each payload")
	streamURL := flag.String("stream", "", "SSE stream URL to drain (optional)")
	flag.Parse()

	sim := newSimulator(*count, *churn)

	mux := http.NewServeMux()
	mux.HandleFunc("/iplist", sim.serveIPList)
	mux.HandleFunc("/csv", sim.serveCSV)

	if *streamURL != "" {
		go drainStream(*streamURL)
	}

	log.Printf("serving synthetic feeds on %s (n=%d churn=%.2f)", *addr, *count, *churn)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

type simulator struct {
	count int
	churn float64
	ips   atomic.Pointer[[]string]
}

func newSimulator(count int, churn float64) *simulator {
	s := &simulator{count: count, churn: churn}
	ips := make([]string, count)
	for i := range ips {
		ips[i] = randomIP()
	}
	s.ips.Store(&ips)
	return s
}

// rotate replaces a churn-sized slice of IPs so consecutive cycles overlap,
// exercising the resolver cache the way real feeds do.
func (s *simulator) rotate() []string {
	old := *s.ips.Load()
	ips := append([]string(nil), old...)
	for i := 0; i < int(float64(len(ips))*s.churn); i++ {
		ips[rand.Intn(len(ips))] = randomIP()
	}
	s.ips.Store(&ips)
	return ips
}

func (s *simulator) serveIPList(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString("# synthetic feed\n")
	for _, ip := range s.rotate() {
		b.WriteString(ip)
		b.WriteByte('\n')
	}
	fmt.Fprint(w, b.String())
}

func (s *simulator) serveCSV(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString("first_seen_utc,dst_ip,dst_port\n")
	now := time.Now().UTC().Format(time.RFC3339)
	for _, ip := range s.rotate() {
		fmt.Fprintf(&b, "%s,%s,443\n", now, ip)
	}
	fmt.Fprint(w, b.String())
}

func randomIP() string {
	// Public-looking addresses only; private ranges are skipped upstream.
	return fmt.Sprintf("%d.%d.%d.%d", 1+rand.Intn(222), rand.Intn(256), rand.Intn(256), 1+rand.Intn(254))
}

// drainStream consumes the SSE stream and logs the event rate once a second.
func drainStream(url string) {
	var received atomic.Int64

	go func() {
		for range time.Tick(time.Second) {
			log.Printf("stream: %d events received", received.Swap(0))
		}
	}()

	for {
		resp, err := http.Get(url)
		if err != nil {
			log.Printf("stream connect failed, retrying: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "data: ") {
				received.Add(1)
			}
		}
		resp.Body.Close()
		log.Printf("stream disconnected, reconnecting")
	}
}
