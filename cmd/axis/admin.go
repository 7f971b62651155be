package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/axisgate/axis/internal/domain"
	"github.com/axisgate/axis/internal/store"
)

// getStore opens the Postgres store the admin commands operate on.
func getStore(ctx context.Context) (*store.PostgresStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("admin commands need Postgres: set --pg, AXIS_POSTGRES_DSN or postgres.dsn in the config file")
	}
	return store.NewPostgresStore(ctx, cfg.Postgres.DSN)
}

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Manage gateway routes",
	}
	cmd.AddCommand(routeAddCmd(), routeListCmd(), routeRemoveCmd(), routeEnableCmd())
	return cmd
}

func routeAddCmd() *cobra.Command {
	var (
		method      string
		target      string
		rlMax       int
		rlWindow    time.Duration
		authPerms   []string
		authRoles   []string
		minLevel    int
		cacheTTL    time.Duration
		cacheKey    string
		monitor     bool
		corsOrigins []string
		breakerPct  float64
		breakerWin  time.Duration
		breakerOpen time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			route := &domain.Route{
				Method:  strings.ToUpper(method),
				Path:    args[0],
				Target:  target,
				Enabled: true,
			}
			if rlMax > 0 {
				route.RateLimit = &domain.RateLimitPolicy{MaxRequests: rlMax, Window: rlWindow}
			}
			if len(authPerms) > 0 || len(authRoles) > 0 || minLevel > 0 {
				route.Auth = &domain.AuthPolicy{
					Required:     true,
					Permissions:  authPerms,
					Roles:        authRoles,
					MinRoleLevel: minLevel,
				}
			}
			if cacheTTL > 0 {
				route.Cache = &domain.CachePolicy{Enabled: true, TTL: cacheTTL, Key: cacheKey}
			}
			if monitor {
				route.Monitor = &domain.MonitorPolicy{Enabled: true}
			}
			if len(corsOrigins) > 0 {
				route.CORS = &domain.CORSPolicy{AllowOrigins: corsOrigins}
			}
			if breakerPct > 0 {
				route.Breaker = &domain.BreakerPolicy{
					ErrorPct: breakerPct,
					Window:   breakerWin,
					OpenFor:  breakerOpen,
				}
			}

			created, err := s.CreateRoute(ctx, route)
			if err != nil {
				return err
			}
			fmt.Printf("Route registered:\n")
			fmt.Printf("  ID:     %s\n", created.ID)
			fmt.Printf("  Method: %s\n", created.Method)
			fmt.Printf("  Path:   %s\n", created.Path)
			fmt.Printf("  Target: %s\n", created.Target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", "GET", "HTTP method")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Forward target base URL")
	cmd.Flags().IntVar(&rlMax, "rl-max", 0, "Rate limit: max requests per window (0 = no limit)")
	cmd.Flags().DurationVar(&rlWindow, "rl-window", time.Minute, "Rate limit window")
	cmd.Flags().StringSliceVar(&authPerms, "perm", nil, "Required permission IDs")
	cmd.Flags().StringSliceVar(&authRoles, "role", nil, "Required role IDs")
	cmd.Flags().IntVar(&minLevel, "min-level", 0, "Minimum role level")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 0, "Response cache TTL (0 = no caching)")
	cmd.Flags().StringVar(&cacheKey, "cache-key", "", "Cache key template ({method}, {path}, {body})")
	cmd.Flags().BoolVar(&monitor, "monitor", false, "Collect per-request metrics")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "Allowed CORS origins")
	cmd.Flags().Float64Var(&breakerPct, "breaker-error-pct", 0, "Circuit breaker error threshold in percent (0 = off)")
	cmd.Flags().DurationVar(&breakerWin, "breaker-window", 30*time.Second, "Circuit breaker error window")
	cmd.Flags().DurationVar(&breakerOpen, "breaker-open", 15*time.Second, "How long a tripped breaker stays open")
	cmd.MarkFlagRequired("target")

	return cmd
}

func routeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List routes",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			rts, err := s.ListRoutes(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMETHOD\tPATH\tTARGET\tENABLED\tPOLICIES")
			for _, r := range rts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
					r.ID, r.Method, r.Path, r.Target, r.Enabled, policySummary(r))
			}
			return w.Flush()
		},
	}
}

func policySummary(r *domain.Route) string {
	var parts []string
	if r.RateLimit != nil {
		parts = append(parts, fmt.Sprintf("rl=%d/%s", r.RateLimit.MaxRequests, r.RateLimit.Window))
	}
	if r.Auth != nil && r.Auth.Required {
		parts = append(parts, "auth")
	}
	if r.Cache != nil && r.Cache.Enabled {
		parts = append(parts, "cache="+r.Cache.TTL.String())
	}
	if r.Monitor != nil && r.Monitor.Enabled {
		parts = append(parts, "monitor")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func routeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.DeleteRoute(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("Route %s not found\n", args[0])
				return nil
			}
			fmt.Printf("Route %s removed\n", args[0])
			return nil
		},
	}
}

func routeEnableCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable or disable a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			route, err := s.GetRoute(ctx, args[0])
			if err != nil {
				return err
			}
			route.Enabled = !disable
			if err := s.UpdateRoute(ctx, route); err != nil {
				return err
			}
			fmt.Printf("Route %s enabled=%t\n", route.ID, route.Enabled)
			return nil
		},
	}
	cmd.Flags().BoolVar(&disable, "off", false, "Disable instead of enable")
	return cmd
}

func permissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permission",
		Short:   "Manage permissions",
		Aliases: []string{"perm"},
	}

	var (
		name     string
		resource string
		action   string
		desc     string
	)
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Create a permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.CreatePermission(ctx, domain.Permission{
				ID:          args[0],
				Name:        name,
				Resource:    resource,
				Action:      action,
				Description: desc,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Permission %s created\n", p.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.Flags().StringVar(&resource, "resource", "", "Resource type")
	add.Flags().StringVar(&action, "action", "", "Action")
	add.Flags().StringVar(&desc, "desc", "", "Description")
	add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:     "list",
		Short:   "List permissions",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			perms, err := s.ListPermissions(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRESOURCE\tACTION")
			for _, p := range perms {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Resource, p.Action)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles",
	}

	var (
		name   string
		desc   string
		level  int
		perms  []string
		system bool
	)
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.CreateRole(ctx, domain.Role{
				ID:            args[0],
				Name:          name,
				Description:   desc,
				PermissionIDs: perms,
				Level:         level,
				IsSystem:      system,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Role %s created (level %d, %d permissions)\n", r.ID, r.Level, len(r.PermissionIDs))
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.Flags().StringVar(&desc, "desc", "", "Description")
	add.Flags().IntVar(&level, "level", 0, "Role level")
	add.Flags().StringSliceVar(&perms, "perm", nil, "Permission IDs")
	add.Flags().BoolVar(&system, "system", false, "Mark as immutable system role")
	add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:     "list",
		Short:   "List roles",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			rls, err := s.ListRoles(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLEVEL\tSYSTEM\tPERMISSIONS")
			for _, r := range rls {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
					r.ID, r.Name, r.Level, r.IsSystem, strings.Join(r.PermissionIDs, ","))
			}
			return w.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a non-system role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.DeleteRole(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("Role %s not found\n", args[0])
				return nil
			}
			fmt.Printf("Role %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var (
		email string
		roles []string
	)
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := s.CreateUser(ctx, domain.User{
				Username: args[0],
				Email:    email,
				RoleIDs:  roles,
			})
			if err != nil {
				return err
			}
			fmt.Printf("User created:\n")
			fmt.Printf("  ID:       %s\n", u.ID)
			fmt.Printf("  Username: %s\n", u.Username)
			fmt.Printf("  Roles:    %s\n", strings.Join(u.RoleIDs, ","))
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "Email address")
	add.Flags().StringSliceVar(&roles, "role", nil, "Role IDs")

	list := &cobra.Command{
		Use:     "list",
		Short:   "List users",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			users, err := s.ListUsers(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tSTATUS\tROLES\tLAST LOGIN")
			for _, u := range users {
				last := "-"
				if u.LastLoginAt != nil {
					last = u.LastLoginAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					u.ID, u.Username, u.Status, strings.Join(u.RoleIDs, ","), last)
			}
			return w.Flush()
		},
	}

	var status string
	setStatus := &cobra.Command{
		Use:   "status <id>",
		Short: "Set a user's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.UpdateUserStatus(ctx, args[0], domain.UserStatus(status)); err != nil {
				return err
			}
			fmt.Printf("User %s status set to %s\n", args[0], status)
			return nil
		},
	}
	setStatus.Flags().StringVar(&status, "to", "active", "New status (active, inactive, suspended)")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.DeleteUser(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("User %s not found\n", args[0])
				return nil
			}
			fmt.Printf("User %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, setStatus, del)
	return cmd
}
