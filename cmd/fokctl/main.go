// fokctl is the operator CLI: role and block management, user lookups,
// catalog seeding and status statistics against the live database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fok-catalog/go-backend/internal/authz"
	"fok-catalog/go-backend/internal/platform/config"
	"fok-catalog/go-backend/internal/platform/privacylog"
	"fok-catalog/go-backend/internal/storage"
	"fok-catalog/go-backend/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	exitOK           = 0
	exitError        = 1
	exitInvalidInput = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	_ = godotenv.Load()

	switch os.Args[1] {
	case "grant-admin":
		runRoleChange(os.Args[2:], "grant-admin")
	case "revoke-admin":
		runRoleChange(os.Args[2:], "revoke-admin")
	case "block":
		runBlockChange(os.Args[2:], "block")
	case "unblock":
		runBlockChange(os.Args[2:], "unblock")
	case "user-info":
		runUserInfo(os.Args[2:])
	case "list-admins":
		runListAdmins(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "pending":
		runPending(os.Args[2:])
	case "seed":
		runSeed(os.Args[2:])
	case "version":
		fmt.Printf("fokctl version=%s commit=%s build_date=%s\n", version, commit, buildDate)
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: fokctl <command> [flags]

commands:
  grant-admin  -id <telegram id> [-actor <telegram id>]   grant the admin role
  revoke-admin -id <telegram id> [-actor <telegram id>]   revoke the admin role
  block        -id <telegram id> [-actor <telegram id>]   block a user
  unblock      -id <telegram id> [-actor <telegram id>]   unblock a user
  user-info    -id <telegram id>                          print one user
  list-admins                                             print admins and configured super admins
  stats                                                   print operational statistics
  pending      [-page <n>]                                list pending applications
  seed         -file <catalog.yaml>                       upsert the facility catalog
  version                                                 print version and exit

common flags:
  -config <path>   config file (default: configs/config.yaml)`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(exitError)
}

// toolEnv is the shared backend handle for one command invocation.
type toolEnv struct {
	cfg   config.Config
	store *storage.Store
	roles *authz.Service

	disconnect func(context.Context) error
}

func connect(ctx context.Context, configPath string) *toolEnv {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	// The CLI reports through stdout; keep the component logs quiet.
	logger := privacylog.NewLogger("error")
	store, disconnect, err := storage.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		fatalf("connect storage: %v", err)
	}
	return &toolEnv{
		cfg:        cfg,
		store:      store,
		roles:      authz.NewService(store.Users(), cfg.Bot.IsSuperAdmin, logger),
		disconnect: disconnect,
	}
}

func (e *toolEnv) close(ctx context.Context) {
	_ = e.disconnect(ctx)
}

// actorID resolves the acting operator for write commands: the -actor flag
// when given, otherwise the first configured super admin.
func (e *toolEnv) actorID(flagValue int64) int64 {
	if flagValue != 0 {
		return flagValue
	}
	if len(e.cfg.Bot.SuperAdminIDs) == 0 {
		fatalf("no -actor given and no super admins configured")
	}
	return e.cfg.Bot.SuperAdminIDs[0]
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRoleChange(args []string, name string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	id := fs.Int64("id", 0, "target telegram id")
	actor := fs.Int64("actor", 0, "acting telegram id (default: first configured super admin)")
	_ = fs.Parse(args)
	if *id == 0 {
		fs.Usage()
		os.Exit(exitInvalidInput)
	}

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	var err error
	if name == "grant-admin" {
		err = env.roles.GrantAdmin(ctx, env.actorID(*actor), *id)
	} else {
		err = env.roles.RevokeAdmin(ctx, env.actorID(*actor), *id)
	}
	if err != nil {
		fatalf("%s %d: %v", name, *id, err)
	}
	fmt.Printf("%s: user %d done\n", name, *id)
}

func runBlockChange(args []string, name string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	id := fs.Int64("id", 0, "target telegram id")
	actor := fs.Int64("actor", 0, "acting telegram id (default: first configured super admin)")
	_ = fs.Parse(args)
	if *id == 0 {
		fs.Usage()
		os.Exit(exitInvalidInput)
	}

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	var err error
	if name == "block" {
		err = env.roles.Block(ctx, env.actorID(*actor), *id)
	} else {
		err = env.roles.Unblock(ctx, env.actorID(*actor), *id)
	}
	if err != nil {
		fatalf("%s %d: %v", name, *id, err)
	}
	fmt.Printf("%s: user %d done\n", name, *id)
}

func runUserInfo(args []string) {
	fs := flag.NewFlagSet("user-info", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	id := fs.Int64("id", 0, "target telegram id")
	_ = fs.Parse(args)
	if *id == 0 {
		fs.Usage()
		os.Exit(exitInvalidInput)
	}

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	user, err := env.store.Users().FindByTelegramID(ctx, *id)
	if err != nil {
		fatalf("user %d: %v", *id, err)
	}
	fmt.Printf("name:               %s\n", valueOr(user.DisplayName, "-"))
	fmt.Printf("username:           @%s\n", valueOr(user.Username, "-"))
	fmt.Printf("telegram id:        %d\n", user.TelegramID)
	fmt.Printf("phone:              %s\n", valueOr(user.Phone, "-"))
	fmt.Printf("registration state: %s\n", user.RegistrationState)
	fmt.Printf("role:               %s\n", user.Role)
	fmt.Printf("blocked:            %t\n", user.Blocked)
	fmt.Printf("total applications: %d\n", user.TotalApplications)
	fmt.Printf("created:            %s\n", user.CreatedAt.Format(time.RFC3339))
	if !user.LastActivity.IsZero() {
		fmt.Printf("last activity:      %s\n", user.LastActivity.Format(time.RFC3339))
	}
}

func runListAdmins(args []string) {
	fs := flag.NewFlagSet("list-admins", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	_ = fs.Parse(args)

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	admins, err := env.store.Users().ListAdmins(ctx)
	if err != nil {
		fatalf("list admins: %v", err)
	}
	for _, u := range admins {
		fmt.Printf("%-12s %-24s @%-16s %d\n", u.Role, valueOr(u.DisplayName, "-"), valueOr(u.Username, "-"), u.TelegramID)
	}
	if len(env.cfg.Bot.SuperAdminIDs) > 0 {
		fmt.Printf("configured super admins: %v\n", env.cfg.Bot.SuperAdminIDs)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	_ = fs.Parse(args)

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	stats, err := env.store.CollectStats(ctx, time.Now().UTC())
	if err != nil {
		fatalf("collect stats: %v", err)
	}
	fmt.Printf("users total:        %d\n", stats.UsersTotal)
	fmt.Printf("users active (30d): %d\n", stats.UsersActive30d)
	fmt.Printf("users blocked:      %d\n", stats.UsersBlocked)
	fmt.Printf("admins:             %d\n", stats.Admins)
	fmt.Printf("facilities active:  %d\n", stats.FacilitiesActive)
	fmt.Printf("applications total: %d\n", stats.ApplicationsTotal)

	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %-12s %d\n", status, stats.ByStatus[status])
	}
}

func runPending(args []string) {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	page := fs.Int64("page", 1, "1-based page")
	_ = fs.Parse(args)
	if *page < 1 {
		*page = 1
	}

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	limit := int64(env.cfg.Bot.MaxItemsPerPage)
	if limit <= 0 {
		limit = 10
	}
	apps, err := env.store.Applications().ListByStatus(ctx, models.StatusPending, *page-1, limit)
	if err != nil {
		fatalf("list pending: %v", err)
	}
	if len(apps) == 0 {
		fmt.Println("no pending applications")
		return
	}
	for _, app := range apps {
		fmt.Printf("%-10s v%-3d %-24s %-20s %-16s %s\n",
			app.Ref, app.Version, valueOr(app.UserName, "-"), app.FacilityName, app.Sport,
			app.CreatedAt.Format("2006-01-02 15:04"))
	}
}

// seedCatalog is the YAML shape of a facility catalog file.
type seedCatalog struct {
	Facilities []seedFacility `yaml:"facilities"`
}

type seedFacility struct {
	Name      string   `yaml:"name"`
	District  string   `yaml:"district"`
	Address   string   `yaml:"address"`
	Sports    []string `yaml:"sports"`
	SortOrder int      `yaml:"sortOrder"`
	Active    *bool    `yaml:"active"` // absent means active
}

func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	file := fs.String("file", "", "facility catalog YAML")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		fs.Usage()
		os.Exit(exitInvalidInput)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fatalf("read catalog: %v", err)
	}
	var catalog seedCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		fatalf("parse catalog: %v", err)
	}
	if len(catalog.Facilities) == 0 {
		fatalf("catalog %s lists no facilities", *file)
	}

	ctx, stop := commandContext()
	defer stop()
	env := connect(ctx, *configPath)
	defer env.close(ctx)

	if err := env.store.EnsureIndexes(ctx); err != nil {
		fatalf("ensure indexes: %v", err)
	}
	for _, f := range catalog.Facilities {
		active := f.Active == nil || *f.Active
		id, err := env.store.Facilities().Upsert(ctx, models.Facility{
			Name:      strings.TrimSpace(f.Name),
			District:  strings.TrimSpace(f.District),
			Address:   strings.TrimSpace(f.Address),
			Sports:    f.Sports,
			Active:    active,
			SortOrder: f.SortOrder,
		})
		if err != nil {
			fatalf("seed %q: %v", f.Name, err)
		}
		fmt.Printf("seeded %-40s %s\n", f.Name, id)
	}
	fmt.Printf("%d facilities seeded\n", len(catalog.Facilities))
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
