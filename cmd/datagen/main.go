// cmd/datagen/main.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
)

// GenConfig for the data generator
type GenConfig struct {
	TargetURL         string
	NumClients        int
	RequestsPerClient int
	Days              int
	RatePerSecond     float64
	WithPrices        bool
}

type sample struct {
	Time string  `json:"time"`
	KWh  float64 `json:"kwh"`
}

type price struct {
	Time   string  `json:"time"`
	GEN    float64 `json:"GEN"`
	NOC    float64 `json:"NOC"`
	VHC    float64 `json:"VHC"`
	TEUGEN float64 `json:"TEUGEN"`
	TEUNOC float64 `json:"TEUNOC"`
	TEUVHC float64 `json:"TEUVHC"`
}

type contract struct {
	CUPS              string  `json:"cups"`
	Tariff            string  `json:"tariff"`
	TaxZone           string  `json:"tax_zone"`
	ContractedPowerKW float64 `json:"contracted_power_kw"`
	SocialDiscount    bool    `json:"social_discount"`
}

type billRequest struct {
	Contract    contract `json:"contract"`
	Consumption []sample `json:"consumption"`
	Prices      []price  `json:"prices,omitempty"`
}

var (
	tariffCodes = []string{"2.0A", "2.0DHA", "2.0DHS"}
	taxZones    = []string{"IVA", "IVA", "IVA", "IGIC", "IPSI"}
	powers      = []float64{2.3, 3.45, 4.6, 5.75, 6.9}
)

// randomCUPS builds a supply point code from a random UUID.
func randomCUPS() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ES" + hex[:16] + "XX"
}

// generateRequest creates a randomized consumption curve, starting at a local
// midnight of 2020, with a household-like daily profile.
func generateRequest(days int, withPrices bool) billRequest {
	start := time.Date(2020, time.Month(rand.Intn(11)+1), rand.Intn(28)+1, 0, 0, 0, 0, tariff.Location)
	end := start.AddDate(0, 0, days)

	req := billRequest{
		Contract: contract{
			CUPS:              randomCUPS(),
			Tariff:            tariffCodes[rand.Intn(len(tariffCodes))],
			TaxZone:           taxZones[rand.Intn(len(taxZones))],
			ContractedPowerKW: powers[rand.Intn(len(powers))],
			SocialDiscount:    rand.Intn(10) == 0,
		},
	}

	base := 0.1 + rand.Float64()*0.3
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		local := ts.In(tariff.Location)
		kwh := base
		if h := local.Hour(); h >= 19 && h < 23 {
			kwh += rand.Float64() * 1.5
		} else if h >= 8 && h < 15 {
			kwh += rand.Float64() * 0.6
		}
		stamp := model.NewTimestamp(ts)
		req.Consumption = append(req.Consumption, sample{Time: stamp.Format(time.RFC3339), KWh: float64(int(kwh*1000)) / 1000})

		if withPrices {
			teu := 44.0
			p := 90 + rand.Float64()*60
			req.Prices = append(req.Prices, price{
				Time:   stamp.Format(time.RFC3339),
				GEN:    p,
				NOC:    p - 20,
				VHC:    p - 25,
				TEUGEN: teu,
				TEUNOC: teu - 20,
				TEUVHC: teu - 25,
			})
		}
	}
	return req
}

// clientWorker simulates a client sending requests.
func clientWorker(id int, cfg GenConfig, limiter *rate.Limiter, wg *sync.WaitGroup, results chan<- string) {
	defer wg.Done()

	client := &http.Client{Timeout: 30 * time.Second}

	for i := 0; i < cfg.RequestsPerClient; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			results <- fmt.Sprintf("Client %d, Request %d: rate limiter error: %v", id, i+1, err)
			return
		}

		jsonPayload, err := json.Marshal(generateRequest(cfg.Days, cfg.WithPrices))
		if err != nil {
			results <- fmt.Sprintf("Client %d, Request %d: JSON marshal error: %v", id, i+1, err)
			continue
		}

		resp, err := client.Post(cfg.TargetURL, "application/json", bytes.NewReader(jsonPayload))
		if err != nil {
			results <- fmt.Sprintf("Client %d, Request %d: HTTP request error: %v", id, i+1, err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			results <- fmt.Sprintf("Client %d, Request %d: Success (%d)", id, i+1, resp.StatusCode)
		} else {
			results <- fmt.Sprintf("Client %d, Request %d: Failed (%d) - Response: %s", id, i+1, resp.StatusCode, string(body))
		}
	}
}

func main() {
	var cfg GenConfig
	flag.StringVar(&cfg.TargetURL, "url", "http://localhost:8080/api/v1/bills", "Target URL of the bill server")
	flag.IntVar(&cfg.NumClients, "clients", 10, "Number of concurrent client goroutines")
	flag.IntVar(&cfg.RequestsPerClient, "requests", 100, "Number of requests per client")
	flag.IntVar(&cfg.Days, "days", 30, "Days of hourly consumption per request")
	flag.Float64Var(&cfg.RatePerSecond, "rate", 0, "Overall request rate per second (0 for no limit)")
	flag.BoolVar(&cfg.WithPrices, "prices", true, "Send synthetic PVPC prices instead of letting the server fetch them")
	flag.Parse()

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	fmt.Printf("Starting data generator with config:\n")
	fmt.Printf("  Target URL: %s\n", cfg.TargetURL)
	fmt.Printf("  Clients: %d\n", cfg.NumClients)
	fmt.Printf("  Requests/Client: %d\n", cfg.RequestsPerClient)
	fmt.Printf("  Days/Request: %d\n", cfg.Days)
	fmt.Printf("  Total Requests: %d\n", cfg.NumClients*cfg.RequestsPerClient)
	fmt.Printf("  Target Rate: %.1f req/sec\n", cfg.RatePerSecond)
	fmt.Println("-------------------------------------")

	startTime := time.Now()
	var wg sync.WaitGroup
	results := make(chan string, cfg.NumClients*cfg.RequestsPerClient)

	for i := 0; i < cfg.NumClients; i++ {
		wg.Add(1)
		go clientWorker(i+1, cfg, limiter, &wg, results)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var successCount, failureCount int
	for res := range results {
		fmt.Println(res)
		if strings.Contains(res, "Success (") {
			successCount++
		} else {
			failureCount++
		}
	}

	duration := time.Since(startTime)
	fmt.Println("-------------------------------------")
	fmt.Printf("Data generation finished.\n")
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Successful Requests: %d\n", successCount)
	fmt.Printf("Failed Requests: %d\n", failureCount)
	if duration.Seconds() > 0 {
		fmt.Printf("Approximate Throughput: %.2f bills/sec\n", float64(successCount)/duration.Seconds())
	}
}
