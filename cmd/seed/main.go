package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// seed writes a fake grooming calendar in the shapes real schedules take:
// prices typed in several ways, recurring visits, skipped weeks.
func main() {
	var (
		clients int
		seed    uint64
		out     string
		prefix  string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a fake grooming calendar (.ics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			faker := gofakeit.New(seed)

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeCalendar(w, faker, clients, prefix, time.Now().UTC())
		},
	}
	cmd.Flags().IntVarP(&clients, "clients", "n", 25, "Number of fake clients")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (0 picks one)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Business prefix put on some summaries; import with the same value in BUSINESS_PREFIXES")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	services = []string{"bath", "full groom", "nail trim", "haircut", "deshedding", "baño", "corte y uñas"}
	species  = []string{"dog", "puppy", "cat", "perrito", "gato"}
	rules    = []string{
		"FREQ=WEEKLY",
		"FREQ=WEEKLY;INTERVAL=2",
		"FREQ=WEEKLY;INTERVAL=4;COUNT=6",
		"FREQ=MONTHLY",
		"FREQ=DAILY;INTERVAL=14;UNTIL=%s",
	}
)

func writeCalendar(w io.Writer, faker *gofakeit.Faker, clients int, prefix string, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//calsync//seed//EN")

	for i := 0; i < clients; i++ {
		name := faker.FirstName() + " " + faker.LastName()
		pet := faker.PetName()
		email := faker.Email()
		phone := faker.Phone()
		address := faker.Address().Address

		day := now.AddDate(0, 0, faker.Number(-20, 40))
		start := time.Date(day.Year(), day.Month(), day.Day(), faker.Number(8, 17), 30*faker.Number(0, 1), 0, 0, time.UTC)

		ev := cal.AddEvent(uuid.NewString() + "@seed.calsync")
		ev.SetDtStampTime(now)
		ev.SetCreatedTime(now.AddDate(0, -faker.Number(1, 12), 0))
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(time.Hour))
		ev.SetSummary(summary(faker, name, pet, prefix))
		ev.SetDescription(fmt.Sprintf("Phone: %s\nAddress: %s", phone, address))
		ev.SetLocation(address)
		ev.AddProperty(ical.ComponentPropertyAttendee, "mailto:"+email)

		// roughly two in three clients are regulars
		if faker.Number(0, 2) > 0 {
			rule := rules[faker.Number(0, len(rules)-1)]
			if strings.Contains(rule, "%s") {
				rule = fmt.Sprintf(rule, start.AddDate(0, 4, 0).Format("20060102"))
			}
			ev.SetProperty(ical.ComponentPropertyRrule, rule)
			if faker.Bool() {
				skipped := start.AddDate(0, 0, 14)
				ev.SetProperty(ical.ComponentPropertyExdate, skipped.Format("20060102T150405Z"))
			}
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

// summary renders one of the ways staff type appointments.
func summary(faker *gofakeit.Faker, name, pet, prefix string) string {
	service := services[faker.Number(0, len(services)-1)]
	kind := species[faker.Number(0, len(species)-1)]
	price := faker.Number(4, 18) * 5

	switch faker.Number(0, 5) {
	case 0:
		return fmt.Sprintf("%s %s %s $%d", name, pet, service, price)
	case 1:
		return fmt.Sprintf("%s (%s %s) %d$", name, pet, kind, price)
	case 2:
		return fmt.Sprintf("%s %s %dx%d", name, service, faker.Number(2, 3), price/2)
	case 3:
		if prefix == "" {
			return fmt.Sprintf("%s - %s ($%d)", name, service, price)
		}
		return fmt.Sprintf("%s - %s %s ($%d)", prefix, name, service, price)
	case 4:
		return fmt.Sprintf("%s (*%04d) %s$%d", name, faker.Number(0, 9999), pet, price)
	default:
		return fmt.Sprintf("%s %s %s", name, kind, service)
	}
}
