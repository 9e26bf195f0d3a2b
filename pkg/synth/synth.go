// Package synth generates deterministic raw table snapshots for demos and
// tests.
package synth

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/hed1ad/custsegml/pkg/records"
)

// Config controls the generated snapshot.
type Config struct {
	// Customers is the number of regular customers. They are spread evenly
	// over the behavior profiles.
	Customers int
	// Outliers adds customers with a single, very late, very large payment.
	Outliers int
	// Orphans adds payments referencing orders that do not exist.
	Orphans int
	// End is the latest possible order date. History spans two years back.
	End  time.Time
	Seed int64
}

// DefaultConfig returns a small snapshot of 100 customers.
func DefaultConfig() Config {
	return Config{
		Customers: 100,
		Outliers:  3,
		Orphans:   5,
		End:       time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		Seed:      42,
	}
}

// Methods lists the generated payment methods.
var Methods = []string{"card", "transfer", "cash"}

// profile describes one behavior archetype.
type profile struct {
	name                 string
	minOrders, maxOrders int
	minAmount, maxAmount float64
	minDelay, maxDelay   int
	// ageDays is the minimum age of every order, in days before End.
	ageDays int
	method  string
}

var profiles = []profile{
	{name: "regular", minOrders: 6, maxOrders: 10, minAmount: 50, maxAmount: 300, minDelay: 0, maxDelay: 10, method: "card"},
	{name: "big_spender", minOrders: 2, maxOrders: 4, minAmount: 1000, maxAmount: 2000, minDelay: 0, maxDelay: 20, method: "transfer"},
	{name: "late_payer", minOrders: 3, maxOrders: 5, minAmount: 100, maxAmount: 800, minDelay: 60, maxDelay: 200, method: "transfer"},
	{name: "dormant", minOrders: 1, maxOrders: 2, minAmount: 50, maxAmount: 500, minDelay: 0, maxDelay: 30, ageDays: 500, method: "cash"},
}

// Profiles returns the number of behavior archetypes.
func Profiles() int {
	return len(profiles)
}

var (
	firstNames = []string{"Anna", "Bence", "Csilla", "Dani", "Eszter", "Ferenc", "Gabi", "Hanna"}
	lastNames  = []string{"Kovacs", "Nagy", "Szabo", "Toth", "Varga", "Kiss", "Molnar", "Farkas"}
)

type generator struct {
	cfg      Config
	rng      *rand.Rand
	t        records.Tables
	orderSeq int
	paySeq   int
}

// Generate builds a snapshot. Identical configs yield identical snapshots.
func Generate(cfg Config) records.Tables {
	if cfg.End.IsZero() {
		cfg.End = DefaultConfig().End
	}
	g := &generator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}

	for i := 0; i < cfg.Customers; i++ {
		p := profiles[i%len(profiles)]
		id := g.customer(730 + g.rng.Intn(365))
		n := p.minOrders + g.rng.Intn(p.maxOrders-p.minOrders+1)
		for j := 0; j < n; j++ {
			age := p.ageDays + g.rng.Intn(730-p.ageDays)
			amount := p.minAmount + g.rng.Float64()*(p.maxAmount-p.minAmount)
			delay := p.minDelay + g.rng.Intn(p.maxDelay-p.minDelay+1)
			method := p.method
			if g.rng.Float64() < 0.2 {
				method = Methods[g.rng.Intn(len(Methods))]
			}
			g.order(id, age, amount, delay, method)
		}
	}

	for i := 0; i < cfg.Outliers; i++ {
		id := g.customer(1500 + g.rng.Intn(200))
		g.order(id, 1450+g.rng.Intn(30), 5000+g.rng.Float64()*5000, 1400+g.rng.Intn(30), "cash")
	}

	for i := 0; i < cfg.Orphans; i++ {
		g.paySeq++
		g.t.Payments = append(g.t.Payments, records.Payment{
			ID:          strconv.Itoa(g.paySeq),
			OrderID:     "missing-" + strconv.Itoa(i+1),
			PaymentDate: cfg.End.AddDate(0, 0, -g.rng.Intn(365)),
			Amount:      100,
			Method:      "card",
		})
	}
	return g.t
}

func (g *generator) customer(ageDays int) string {
	id := strconv.Itoa(len(g.t.Customers) + 1)
	first := firstNames[g.rng.Intn(len(firstNames))]
	last := lastNames[g.rng.Intn(len(lastNames))]
	g.t.Customers = append(g.t.Customers, records.Customer{
		ID:       id,
		RegDate:  g.cfg.End.AddDate(0, 0, -ageDays),
		FullName: first + " " + last,
		Email:    fmt.Sprintf("%s.%s%s@example.com", first, last, id),
		Phone:    fmt.Sprintf("+36 30 %03d %04d", g.rng.Intn(1000), g.rng.Intn(10000)),
	})
	return id
}

// order adds one order and pays it, occasionally in two installments.
func (g *generator) order(customerID string, ageDays int, amount float64, delay int, method string) {
	g.orderSeq++
	orderID := strconv.Itoa(g.orderSeq)
	orderDate := g.cfg.End.AddDate(0, 0, -ageDays)
	amount = float64(int(amount*100)) / 100
	g.t.Orders = append(g.t.Orders, records.Order{
		ID:         orderID,
		CustomerID: customerID,
		OrderDate:  orderDate,
		Amount:     amount,
		Currency:   "HUF",
	})

	parts := []float64{amount}
	if g.rng.Float64() < 0.15 {
		first := float64(int(amount*50)) / 100
		parts = []float64{first, amount - first}
	}
	for i, part := range parts {
		g.paySeq++
		g.t.Payments = append(g.t.Payments, records.Payment{
			ID:          strconv.Itoa(g.paySeq),
			OrderID:     orderID,
			PaymentDate: orderDate.AddDate(0, 0, delay+i*7),
			Amount:      part,
			Method:      method,
		})
	}
}
