package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/fako1024/bthome/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var log = logrus.New()

func main() {
	app := cli.NewApp()
	app.Name = "bthometool"
	app.Usage = "encode and decode BTHome advertising payloads"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration providing additional measurement kinds",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			log.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "encode",
			Usage:     "build an advertising payload from readings",
			ArgsUsage: "<kind>=<value> ...",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "name, n",
					Value: "BTHome",
					Usage: "advertised device name",
				},
				cli.IntFlag{
					Name:  "packet-id, p",
					Value: -1,
					Usage: "packet id to include (disabled if negative)",
				},
			},
			Action: encode,
		},
		{
			Name:      "decode",
			Usage:     "decode a hex encoded advertising payload",
			ArgsUsage: "<hex>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "service-data, s",
					Usage: "treat the input as bare service data (UUID, device info, measurements)",
				},
			},
			Action: decode,
		},
		{
			Name:   "kinds",
			Usage:  "list the known measurement kinds",
			Action: kinds,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func encode(c *cli.Context) error {
	reg, err := registry(c)
	if err != nil {
		return err
	}
	builder, err := bthome.New(c.String("name"), bthome.WithRegistry(reg))
	if err != nil {
		return err
	}

	if id := c.Int("packet-id"); id >= 0 {
		if id > 0xFF {
			return fmt.Errorf("packet id %d exceeds one byte", id)
		}
		if err := builder.AddPacketID(uint8(id)); err != nil {
			return err
		}
	}
	for _, arg := range c.Args() {
		kind, value, err := parseReading(arg)
		if err != nil {
			return err
		}
		if err := builder.Add(kind, value); err != nil {
			return err
		}
	}

	payload, err := builder.Build()
	if err != nil {
		return err
	}
	if err := bthome.CheckEnvelope(payload); err != nil {
		log.Warn(err)
	}
	log.Debugf("encoded %d item(s) into %d bytes", builder.Len(), len(payload))

	fmt.Println(hex.EncodeToString(payload))
	return nil
}

func decode(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one hex encoded payload")
	}
	data, err := hex.DecodeString(strings.ReplaceAll(c.Args().First(), " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex input: %w", err)
	}
	reg, err := registry(c)
	if err != nil {
		return err
	}

	var adv bthome.Advertisement
	if c.Bool("service-data") {
		adv.Measurements, err = bthome.Decode(data, reg)
	} else {
		adv, err = bthome.DecodeAdvertisement(data, reg)
	}
	if err != nil {
		return err
	}

	if adv.Name != "" {
		fmt.Printf("name: %s\n", adv.Name)
	}
	for _, m := range adv.Measurements {
		fmt.Println(m)
	}
	return nil
}

func kinds(c *cli.Context) error {
	reg, err := registry(c)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tWIDTH\tSIGNED\tFACTOR\tUNIT")
	for _, rule := range reg.Rules() {
		fmt.Fprintf(w, "0x%02X\t%s\t%d\t%t\t%g\t%s\n", rule.ObjectID, rule.Kind, rule.Width, rule.Signed, rule.Factor, rule.Unit)
	}
	return w.Flush()
}

////////////////////////////////////////////////////////////////////////////////

func registry(c *cli.Context) (*bthome.Registry, error) {
	path := c.GlobalString("config")
	if path == "" {
		return bthome.DefaultRegistry(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.Registry()
}

func parseReading(arg string) (bthome.Kind, float64, error) {
	kind, value, found := strings.Cut(arg, "=")
	if !found {
		return "", 0, fmt.Errorf("invalid reading `%s`, expected <kind>=<value>", arg)
	}

	switch value {
	case "true", "on":
		return bthome.Kind(kind), 1, nil
	case "false", "off":
		return bthome.Kind(kind), 0, nil
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid value for `%s`: %w", kind, err)
	}
	return bthome.Kind(kind), v, nil
}
