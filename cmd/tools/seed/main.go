package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/modules/products"
	"pehlione.com/settlement/internal/shared/dbx"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "seed",
		Usage: "create a product and an order awaiting payment for local settlement runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"DB_DSN"}, Required: true, Usage: "MySQL DSN"},
			&cli.StringFlag{Name: "name", Value: "Demo Mug", Usage: "product name; the slug is derived from it"},
			&cli.StringFlag{Name: "price", Value: "25.00"},
			&cli.IntFlag{Name: "stock", Value: 10},
			&cli.IntFlag{Name: "qty", Value: 2, Usage: "quantity of the single line item"},
			&cli.StringFlag{Name: "sku", Usage: "order a variant with this SKU instead of the base product"},
			&cli.StringFlag{Name: "preference", Usage: "checkout preference id (default: random)"},
			&cli.StringFlag{Name: "currency", Value: "BRL"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	ctx := c.Context

	price, err := decimal.NewFromString(c.String("price"))
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	qty := c.Int("qty")
	if qty < 1 {
		return fmt.Errorf("qty must be positive")
	}

	db, err := dbx.OpenMySQL(c.String("dsn"))
	if err != nil {
		return err
	}
	catalog := products.NewRepo(db)

	p, err := catalog.CreateProduct(ctx, c.String("name"), "", price, c.Int("stock"))
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	item := orders.OrderItem{ProductID: &p.ID, Quantity: qty, UnitPrice: price}

	if sku := c.String("sku"); sku != "" {
		v, err := catalog.AddVariant(ctx, p.ID, sku, price, c.Int("stock"))
		if err != nil {
			return fmt.Errorf("add variant: %w", err)
		}
		item.VariantID = &v.ID
	}

	pref := c.String("preference")
	if pref == "" {
		pref = "pref-" + uuid.NewString()[:8]
	}
	o := orders.Order{
		Total:        price.Mul(decimal.NewFromInt(int64(qty))),
		Currency:     c.String("currency"),
		PreferenceID: &pref,
	}
	if err := orders.NewRepo(db).Create(ctx, &o, []orders.OrderItem{item}); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	fmt.Printf("product %s (%s) stock=%d\n", p.ID, p.Slug, p.Stock)
	fmt.Printf("order   %s preference=%s status=%s\n", o.ID, pref, o.Status)
	return nil
}
