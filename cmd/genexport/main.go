package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"brazekit/internal/model"
	"brazekit/internal/transform"
)

type genOptions struct {
	count      int
	output     string
	externalID string
	seed       int64
	missingTS  bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var o genOptions
	cmd := &cobra.Command{
		Use:           "genexport",
		Short:         "Write a synthetic order export for brazeimport smoke tests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.count < 0 {
				return errors.Newf("count must not be negative, got %d", o.count)
			}
			if o.seed == 0 {
				o.seed = time.Now().UnixNano()
			}
			if err := writeExport(o); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "generated %d orders to %s\n", o.count, o.output)
			return nil
		},
	}
	cmd.SetOut(stdout)
	fs := cmd.Flags()
	fs.IntVar(&o.count, "count", 100, "number of orders to generate")
	fs.StringVarP(&o.output, "output", "o", "export.json", "output file")
	fs.StringVar(&o.externalID, "external-id", "", "external_id written into the document (default: a new UUID)")
	fs.Int64Var(&o.seed, "seed", 0, "random seed (default: time based)")
	fs.BoolVar(&o.missingTS, "missing-timestamps", false, "leave createdAt off every tenth order")
	return cmd
}

var menu = []model.MenuItem{
	{ID: "burger", Name: "Burger", Price: 5.5, Category: "Food"},
	{ID: "fries", Name: "Fries", Price: 2.25, Category: "Sides"},
	{ID: "cola", Name: "Cola", Price: 1.99, Category: "Drinks"},
	{ID: "shake", Name: "Milkshake", Price: 3.75, Category: "Drinks"},
	{ID: "wrap", Name: "Chicken Wrap", Price: 6.1, Category: "Food"},
}

var extras = []model.Customization{
	{ID: "cheese", Name: "Extra Cheese", Price: 1.25},
	{ID: "bacon", Name: "Bacon", Price: 1.5},
	{ID: "ice", Name: "", Price: 0},
}

var stores = []model.Store{
	{ID: "s1", Name: "Main St"},
	{ID: "s2", Name: "Harbour"},
	{ID: "s3", Name: "Station"},
}

func generate(o genOptions) model.Export {
	rng := rand.New(rand.NewSource(o.seed))
	ext := o.externalID
	if ext == "" {
		ext = uuid.NewString()
	}
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	doc := model.Export{ExternalID: model.Text(ext), Orders: make([]model.Order, 0, o.count)}
	for i := 0; i < o.count; i++ {
		ord := model.Order{
			ID:         model.Text(fmt.Sprintf("o%d", i+1)),
			Store:      stores[rng.Intn(len(stores))],
			PickupTime: model.Text(fmt.Sprintf("%02d:%02d", 10+rng.Intn(10), 15*rng.Intn(4))),
		}
		at := base.Add(time.Duration(i) * 90 * time.Minute)
		switch {
		case o.missingTS && i%10 == 9:
		case i%2 == 0:
			ord.CreatedAt = model.TextTimestamp(at.Format(time.RFC3339))
		default:
			ord.CreatedAt = model.TimeTimestamp(at)
		}

		var subtotal float64
		for n := 1 + rng.Intn(3); n > 0; n-- {
			it := model.OrderItem{Item: menu[rng.Intn(len(menu))], Quantity: model.Quantity(1 + rng.Intn(3))}
			if rng.Intn(3) == 0 {
				it.Customizations = []model.Customization{extras[rng.Intn(len(extras))]}
			}
			ord.Items = append(ord.Items, it)
			subtotal += transform.LineTotal(it)
		}
		tax := transform.Round2(subtotal * 0.08)
		ord.Subtotal = model.Number(transform.Round2(subtotal))
		ord.Tax = model.Number(tax)
		if rng.Intn(5) == 0 {
			ord.RewardDiscount = 2
		}
		ord.Total = model.Number(transform.Round2(subtotal + tax - ord.RewardDiscount.Float64()))
		ord.PointsEarned = model.Number(float64(int(subtotal)))
		doc.Orders = append(doc.Orders, ord)
	}
	return doc
}

func writeExport(o genOptions) error {
	file, err := os.Create(o.output)
	if err != nil {
		return errors.Wrap(err, "create file")
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generate(o)); err != nil {
		return errors.Wrap(err, "encode export")
	}
	return nil
}
