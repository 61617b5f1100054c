package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/urfave/cli/v2"

	"pehlione.com/settlement/internal/config"
	"pehlione.com/settlement/internal/modules/inventory"
	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/shared/dbx"
	"pehlione.com/settlement/internal/storage"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "reconcile",
		Usage: "report committed orders whose stock ledger does not match their line items",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"DB_DSN"}, Required: true, Usage: "MySQL DSN"},
			&cli.DurationFlag{Name: "since", Value: 7 * 24 * time.Hour, Usage: "only orders updated within this window (0 = all)"},
			&cli.BoolFlag{Name: "stdout", Usage: "print the CSV instead of storing it"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	ctx := c.Context

	db, err := dbx.OpenMySQL(c.String("dsn"))
	if err != nil {
		return err
	}

	var since time.Time
	if d := c.Duration("since"); d > 0 {
		since = time.Now().Add(-d)
	}

	rows, err := inventory.NewReconciler(orders.NewRepo(db), inventory.NewGormLedger(db)).Run(ctx, since)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := inventory.WriteCSV(&buf, rows); err != nil {
		return err
	}

	if c.Bool("stdout") {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	return store(ctx, buf.Bytes(), len(rows))
}

func store(ctx context.Context, report []byte, n int) error {
	var sc config.StorageConfig
	if err := envconfig.Process("", &sc); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	st, err := storage.New(ctx, sc)
	if err != nil {
		return err
	}

	res, err := st.Storage.Put(ctx, bytes.NewReader(report), storage.PutInput{
		Filename:    "reconcile.csv",
		Prefix:      "reconcile/" + time.Now().UTC().Format("2006-01-02"),
		ContentType: "text/csv",
		Size:        int64(len(report)),
	})
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	fmt.Printf("%d discrepancies, report stored via %s: %s\n", n, st.Driver, res.URL)
	return nil
}
