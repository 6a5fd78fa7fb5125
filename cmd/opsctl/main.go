package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kkkkikiki/studyping/internal/rpc"
)

const defaultTimeout = 30 * time.Second

func usage() {
	fmt.Fprintln(os.Stderr, `usage: opsctl [flags] <command> [args]

commands:
  tick                         run one dispatch tick now
  generate <enrollment_id>...  generate pings for one or more enrollments
  link <code> <recipient>      redeem a link code for a recipient
  create-study <json|@file>    register a study
  create-template <json|@file> add a ping template to a study
  update-schedule <template_id> <json|@file>
                               replace a template's schedule windows
  delete-template <template_id>
                               delete a template and its pings
  unenroll <enrollment_id>     unenroll a participant
  dashboard-code <enrollment_id>
                               issue a one-time dashboard code

flags:`)
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", envOr("STUDYPING_ADDR", "http://localhost:8080"), "studyping server base URL")
	rps := flag.Int("rps", 20, "max generate requests per second")
	workers := flag.Int("workers", 4, "concurrent generate requests")
	token := flag.String("token", os.Getenv("STUDYPING_OPS_TOKEN"), "ops service bearer token")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	httpClient := &http.Client{Timeout: defaultTimeout}
	client := rpc.NewOpsClient(httpClient, *addr, *token)
	ctx := context.Background()

	var err error
	switch args[0] {
	case "tick":
		err = runTick(ctx, client)
	case "generate":
		err = runGenerate(ctx, client, args[1:], *rps, *workers)
	case "link":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = runLink(ctx, client, args[1], args[2])
	case "create-study", "create-template":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = runCreate(ctx, client, args[0], args[1])
	case "update-schedule":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = runUpdateSchedule(ctx, client, args[1], args[2])
	case "delete-template", "unenroll", "dashboard-code":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = runByID(ctx, client, args[0], args[1])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "opsctl %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func runTick(ctx context.Context, client *rpc.OpsClient) error {
	summary, err := client.DispatchTick(ctx)
	if err != nil {
		return err
	}
	f := summary.GetFields()
	fmt.Println("==========================================")
	fmt.Printf("sent            : %.0f\n", f["sent"].GetNumberValue())
	fmt.Printf("failed          : %.0f\n", f["failed"].GetNumberValue())
	fmt.Printf("blocked         : %.0f\n", f["blocked"].GetNumberValue())
	fmt.Printf("reminded        : %.0f\n", f["reminded"].GetNumberValue())
	fmt.Printf("reminder failed : %.0f\n", f["reminder_failed"].GetNumberValue())
	fmt.Println("==========================================")
	return nil
}

// runGenerate fans the requests out over a bounded worker pool, paced by a
// limiter so a large backfill does not flood the server.
func runGenerate(ctx context.Context, client *rpc.OpsClient, args []string, rps, workers int) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one enrollment id is required")
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid enrollment id %q", a)
		}
		ids = append(ids, id)
	}

	if workers < 1 {
		workers = 1
	}
	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	var total, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			n, err := client.GeneratePings(gctx, id)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				fmt.Printf("enrollment %d: %v\n", id, err)
				return nil
			}
			atomic.AddInt64(&total, n)
			fmt.Printf("enrollment %d: %d pings\n", id, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("generated %d pings, %d of %d enrollments failed\n", total, failed, len(ids))
	if failed > 0 {
		return fmt.Errorf("%d enrollments failed", failed)
	}
	return nil
}

func runLink(ctx context.Context, client *rpc.OpsClient, code, recipient string) error {
	id, err := client.LinkEnrollment(ctx, code, recipient)
	if err != nil {
		return err
	}
	fmt.Printf("linked enrollment %d to %s\n", id, recipient)
	return nil
}

func runCreate(ctx context.Context, client *rpc.OpsClient, cmd, arg string) error {
	var body structpb.Struct
	if err := readJSON(arg, &body); err != nil {
		return err
	}

	create, kind := client.CreateStudy, "study"
	if cmd == "create-template" {
		create, kind = client.CreateTemplate, "template"
	}
	id, err := create(ctx, &body)
	if err != nil {
		return err
	}
	fmt.Printf("created %s %d\n", kind, id)
	return nil
}

func runUpdateSchedule(ctx context.Context, client *rpc.OpsClient, idArg, arg string) error {
	id, err := parseID(idArg)
	if err != nil {
		return err
	}
	var sched structpb.ListValue
	if err := readJSON(arg, &sched); err != nil {
		return err
	}
	if err := client.UpdateSchedule(ctx, id, &sched); err != nil {
		return err
	}
	fmt.Printf("updated schedule of template %d (%d windows)\n", id, len(sched.GetValues()))
	return nil
}

func runByID(ctx context.Context, client *rpc.OpsClient, cmd, idArg string) error {
	id, err := parseID(idArg)
	if err != nil {
		return err
	}
	switch cmd {
	case "delete-template":
		if err := client.DeleteTemplate(ctx, id); err != nil {
			return err
		}
		fmt.Printf("deleted template %d\n", id)
	case "unenroll":
		if err := client.Unenroll(ctx, id); err != nil {
			return err
		}
		fmt.Printf("unenrolled enrollment %d\n", id)
	case "dashboard-code":
		code, expires, err := client.IssueDashboardCode(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("dashboard code %s (expires %s)\n", code, expires)
	}
	return nil
}

// readJSON decodes an inline JSON argument, or the file it names when
// prefixed with '@'.
func readJSON(arg string, msg proto.Message) error {
	b := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		if b, err = os.ReadFile(arg[1:]); err != nil {
			return fmt.Errorf("failed to read %s: %w", arg[1:], err)
		}
	}
	if err := protojson.Unmarshal(b, msg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
