package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lms-portal/core"
)

var routesMobile bool

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table and who may open each route",
	RunE:  runRoutes,
}

func init() {
	routesCmd.Flags().BoolVar(&routesMobile, "mobile", false, "print the mobile navigation table instead of the web routes")
}

func runRoutes(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := core.LoadRouteTable(cfg.RoutesFile)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if routesMobile {
		fmt.Fprintf(w, "landing\tauthenticated=%s\tanonymous=%s\n\n", table.Landing.Mobile.Authenticated, table.Landing.Mobile.Anonymous)
		fmt.Fprintln(w, "SCREEN\tTITLE\tACCESS")
		for _, m := range table.Mobile {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.Title, access(m.Public, m.Role))
		}
		return w.Flush()
	}

	fmt.Fprintf(w, "landing\tauthenticated=%s\tanonymous=%s\n\n", table.Landing.Web.Authenticated, table.Landing.Web.Anonymous)
	fmt.Fprintln(w, "METHOD\tPATH\tPAGE\tACCESS\tNAV")
	for _, r := range table.Web {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Method, r.Path, r.Page, access(r.Public, r.Role), r.Nav)
	}
	return w.Flush()
}

func access(public bool, role core.Role) string {
	switch {
	case public:
		return "public"
	case role == core.RoleNone:
		return "signed in"
	default:
		return string(role) + "+"
	}
}
