package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/ops"
	"github.com/hpungsan/almanac/internal/scheduler"
	"github.com/hpungsan/almanac/internal/web"
)

// appDeps carries what commands need. Nil for help and version.
type appDeps struct {
	db     *sql.DB
	cfg    *config.Config
	svc    *ops.HistoryService
	logger *zap.Logger
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(deps *appDeps) *cli.App {
	app := &cli.App{
		Name:    "almanac",
		Usage:   "Capsule history engine",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(deps),
			capsuleCmd(deps),
			memberCmd(deps),
			postCmd(deps),
			historyCmd(deps),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd runs the HTTP server and the stale history sweep.
func serveCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the history API and pages, and run the scheduled sweep",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
			&cli.BoolFlag{Name: "no-sweep", Usage: "Do not schedule the stale history sweep"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !c.Bool("no-sweep") {
				sched, err := scheduler.New(deps.cfg.Sweep.Timezone, deps.logger)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				added, err := sched.AddSweep(deps.svc, deps.cfg.Sweep)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				if added {
					sched.Start()
					defer func() { <-sched.Stop().Done() }()
				}
			}

			srv, err := web.NewServer(deps.svc, deps.db, deps.logger, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(ctx, srv, deps.logger)
		},
	}
}

// capsuleCmd groups capsule management.
func capsuleCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "capsule",
		Usage: "Manage capsules",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a capsule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Capsule name"},
					&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Required: true, Usage: "Owner user ID"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Description"},
				},
				Action: func(c *cli.Context) error {
					input := ops.CreateCapsuleInput{
						Name:    c.String("name"),
						OwnerID: c.String("owner"),
					}
					if d := c.String("description"); d != "" {
						input.Description = &d
					}
					output, err := ops.CreateCapsule(c.Context, deps.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List capsules",
				Action: func(c *cli.Context) error {
					capsules, err := db.ListCapsules(c.Context, deps.db)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"capsules": capsules})
				},
			},
		},
	}
}

// memberCmd adds or updates a capsule member.
func memberCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:      "member",
		Usage:     "Add or update a capsule member",
		ArgsUsage: "<capsule_id>",
		Flags: []cli.Flag{
			actorFlag(),
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Member user ID"},
			&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Value: "member", Usage: "Role: admin|moderator|member"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.AddMember(c.Context, deps.db, ops.AddMemberInput{
				CapsuleID: c.Args().First(),
				ActorID:   c.String("actor"),
				UserID:    c.String("user"),
				Role:      c.String("role"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// postCmd adds a post (reads content from stdin when piped).
func postCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:      "post",
		Usage:     "Add a post to a capsule (reads content from stdin when piped)",
		ArgsUsage: "<capsule_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Required: true, Usage: "Author user ID"},
			&cli.StringFlag{Name: "author-name", Usage: "Author display name"},
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "Post text"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Post kind (default: text)"},
			&cli.IntFlag{Name: "media", Usage: "Attached media count"},
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "Creation time (RFC 3339)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.AddPostInput{
				CapsuleID:  c.Args().First(),
				AuthorID:   c.String("author"),
				Kind:       c.String("kind"),
				MediaCount: c.Int("media"),
				CreatedAt:  c.Timestamp("at"),
			}
			if name := c.String("author-name"); name != "" {
				input.AuthorName = &name
			}
			content := c.String("content")
			if content == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				content = text
			}
			if content != "" {
				input.Content = &content
			}

			output, err := ops.AddPost(c.Context, deps.db, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// historyCmd groups history reads and editorial actions.
func historyCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Read and curate capsule histories",
		Subcommands: []*cli.Command{
			historyShowCmd(deps),
			historyPublishCmd(deps),
			historyRefineCmd(deps),
			historyPinCmd(deps),
			historyExcludeCmd(deps),
			historyRefreshStaleCmd(deps),
		},
	}
}

func historyShowCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show the composed history of a capsule",
		ArgsUsage: "<capsule_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "viewer", Usage: "Viewer user ID"},
			&cli.BoolFlag{Name: "refresh", Usage: "Regenerate now (editors only)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|markdown"},
		},
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != "json" && format != "markdown" {
				return outputError(errors.NewInvalidRequest("format must be one of: json, markdown"))
			}
			output, err := deps.svc.GetHistory(c.Context, ops.GetHistoryInput{
				CapsuleID:    c.Args().First(),
				ViewerID:     c.String("viewer"),
				ForceRefresh: c.Bool("refresh"),
			})
			if err != nil {
				return outputError(err)
			}
			if format == "markdown" {
				_, err := io.WriteString(os.Stdout, history.RenderMarkdown(output.Snapshot))
				return err
			}
			return outputJSON(output)
		},
	}
}

func historyPublishCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish a period (reads a custom section as JSON from stdin when piped)",
		ArgsUsage: "<capsule_id>",
		Flags: []cli.Flag{
			actorFlag(),
			periodFlag(),
			&cli.StringFlag{Name: "reason", Usage: "Audit note"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PublishSectionInput{
				CapsuleID: c.Args().First(),
				ActorID:   c.String("actor"),
				Period:    c.String("period"),
			}
			if reason := c.String("reason"); reason != "" {
				input.Reason = &reason
			}
			if stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				if text != "" {
					var section history.StoredSection
					if err := json.Unmarshal([]byte(text), &section); err != nil {
						return outputError(errors.NewInvalidRequest("invalid section JSON: " + err.Error()))
					}
					input.Content = &section
				}
			}

			output, err := deps.svc.PublishSection(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func historyRefineCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:      "refine",
		Usage:     "Regenerate one period with editor instructions",
		ArgsUsage: "<capsule_id>",
		Flags: []cli.Flag{
			actorFlag(),
			periodFlag(),
			&cli.StringFlag{Name: "instructions", Aliases: []string{"i"}, Required: true, Usage: "Direction for the model"},
		},
		Action: func(c *cli.Context) error {
			output, err := deps.svc.RefineSection(c.Context, ops.RefineSectionInput{
				CapsuleID:    c.Args().First(),
				ActorID:      c.String("actor"),
				Period:       c.String("period"),
				Instructions: c.String("instructions"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func historyPinCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "pin",
		Usage: "Add or remove pins",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Pin a content block",
				ArgsUsage: "<capsule_id>",
				Flags: []cli.Flag{
					actorFlag(),
					periodFlag(),
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: true, Usage: "summary|highlight|timeline|next_focus"},
					&cli.StringFlag{Name: "post", Usage: "Post ID the block derives from"},
					&cli.StringFlag{Name: "quote", Aliases: []string{"q"}, Usage: "Text fragment of the block"},
					&cli.StringFlag{Name: "note", Usage: "Editor note"},
					&cli.StringFlag{Name: "source", Value: "suggested", Usage: "suggested|published"},
					&cli.IntFlag{Name: "rank", Value: -1, Usage: "Ordering among pins (default: last)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.AddPinInput{
						CapsuleID: c.Args().First(),
						ActorID:   c.String("actor"),
						Period:    c.String("period"),
						Type:      c.String("type"),
						PostID:    optionalFlag(c, "post"),
						Quote:     optionalFlag(c, "quote"),
						Note:      optionalFlag(c, "note"),
						Source:    c.String("source"),
					}
					if c.IsSet("rank") {
						rank := c.Int("rank")
						input.Rank = &rank
					}
					output, err := deps.svc.AddPin(c.Context, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a pin",
				ArgsUsage: "<capsule_id> <pin_id>",
				Flags:     []cli.Flag{actorFlag()},
				Action: func(c *cli.Context) error {
					output, err := deps.svc.RemovePin(c.Context, ops.RemovePinInput{
						CapsuleID: c.Args().Get(0),
						ActorID:   c.String("actor"),
						PinID:     c.Args().Get(1),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"removed": true, "pin": output})
				},
			},
		},
	}
}

func historyExcludeCmd(deps *appDeps) *cli.Command {
	flags := []cli.Flag{
		actorFlag(),
		periodFlag(),
		&cli.StringFlag{Name: "post", Required: true, Usage: "Post ID"},
	}
	return &cli.Command{
		Name:  "exclude",
		Usage: "Exclude posts from generation",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Exclude a post for one period",
				ArgsUsage: "<capsule_id>",
				Flags:     append(flags, &cli.StringFlag{Name: "reason", Usage: "Audit note"}),
				Action: func(c *cli.Context) error {
					output, err := deps.svc.AddExclusion(c.Context, ops.ExclusionInput{
						CapsuleID: c.Args().First(),
						ActorID:   c.String("actor"),
						Period:    c.String("period"),
						PostID:    c.String("post"),
						Reason:    optionalFlag(c, "reason"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "remove",
				Usage:     "Stop excluding a post",
				ArgsUsage: "<capsule_id>",
				Flags:     flags,
				Action: func(c *cli.Context) error {
					err := deps.svc.RemoveExclusion(c.Context, ops.ExclusionInput{
						CapsuleID: c.Args().First(),
						ActorID:   c.String("actor"),
						Period:    c.String("period"),
						PostID:    c.String("post"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"removed": true})
				},
			},
		},
	}
}

func historyRefreshStaleCmd(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "refresh-stale",
		Usage: "Regenerate histories that are missing or older than the threshold",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max capsules (default: 25)"},
			&cli.DurationFlag{Name: "stale-after", Usage: "Age threshold, e.g. 6h (default: 6h)"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Usage: "Parallel regenerations (default: 1)"},
		},
		Action: func(c *cli.Context) error {
			output, err := deps.svc.RefreshStaleHistories(c.Context, ops.RefreshStaleInput{
				Limit:             c.Int("limit"),
				StaleAfterMinutes: int(c.Duration("stale-after").Minutes()),
				Concurrency:       c.Int("concurrency"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

func actorFlag() cli.Flag {
	return &cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Required: true, Usage: "Acting user ID"}
}

func periodFlag() cli.Flag {
	return &cli.StringFlag{Name: "period", Aliases: []string{"p"}, Value: "weekly", Usage: "weekly|monthly|all_time"}
}

// optionalFlag returns the flag value, or nil when unset or blank.
func optionalFlag(c *cli.Context, name string) *string {
	v := strings.TrimSpace(c.String(name))
	if v == "" {
		return nil
	}
	return &v
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if aErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", aErr.Code, aErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
