package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/hueni/internal/app"
	"github.com/dokzlo13/hueni/internal/config"
	"github.com/dokzlo13/hueni/internal/light"
	"github.com/dokzlo13/hueni/internal/transit"
)

var lightsCmd = &cobra.Command{
	Use:   "lights",
	Short: "List the lights known to the bridge",
	Long: `Lights prints the id, name and power state of every light. Use the ids as keys
in rule light maps. Without --username the bridge link button has to be pressed.`,
	Args: cobra.NoArgs,
	RunE: runLights,
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the routes of the monitored agency",
	Args:  cobra.NoArgs,
	RunE:  runRoutes,
}

var stopsCmd = &cobra.Command{
	Use:   "stops <route>",
	Short: "List the stops of a route per direction",
	Args:  cobra.ExactArgs(1),
	RunE:  runStops,
}

var (
	listBridge    string
	listUsername  string
	listToken     string
	listTokenFile string
	listAgency    string
	listBaseURL   string
	listDirection string
)

func init() {
	rootCmd.AddCommand(lightsCmd, routesCmd, stopsCmd)

	lightsCmd.Flags().StringVar(&listBridge, "bridge", "", "Hue bridge address")
	lightsCmd.Flags().StringVar(&listUsername, "username", "", "Bridge user, pairs when empty")
	_ = lightsCmd.MarkFlagRequired("bridge")

	for _, c := range []*cobra.Command{routesCmd, stopsCmd} {
		c.Flags().StringVar(&listToken, "token", "", "511 API token")
		c.Flags().StringVar(&listTokenFile, "token-file", "", "File holding the 511 API token")
		c.Flags().StringVar(&listAgency, "agency", "SF-MUNI", "Agency to list")
		c.Flags().StringVar(&listBaseURL, "base-url", "", "511 API base URL")
		c.MarkFlagsOneRequired("token", "token-file")
	}
	stopsCmd.Flags().StringVar(&listDirection, "direction", "", "Only this direction")
}

func runLights(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Hue.Bridge = listBridge
	cfg.Hue.Username = listUsername

	ctx := app.SignalContext()
	client := app.NewHueClient(cfg.Hue)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if listUsername == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Paired as %s\n\n", client.Username())
	}

	lights, err := client.Lights(ctx)
	if err != nil {
		return err
	}
	return printLights(cmd.OutOrStdout(), lights)
}

func printLights(out io.Writer, lights []light.Light) error {
	byID := make(map[string]light.Light, len(lights))
	ids := make([]string, 0, len(lights))
	for _, l := range lights {
		byID[l.ID] = l
		ids = append(ids, l.ID)
	}
	light.SortIDs(ids)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tON")
	for _, id := range ids {
		l := byID[id]
		on := "-"
		if l.State.On != nil {
			on = fmt.Sprint(*l.State.On)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.ID, l.Name, on)
	}
	return w.Flush()
}

func transitClient() (*transit.Client, error) {
	tc := config.TransitConfig{Token: listToken, TokenFile: listTokenFile}
	token, err := tc.ResolveToken()
	if err != nil {
		return nil, err
	}
	return transit.NewClient(token, transit.Options{BaseURL: listBaseURL}), nil
}

func agencyRoutes(ctx context.Context, client *transit.Client) ([]transit.Route, error) {
	routes, err := client.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}
	return transit.FilterAgency(routes, listAgency), nil
}

func runRoutes(cmd *cobra.Command, args []string) error {
	client, err := transitClient()
	if err != nil {
		return err
	}
	routes, err := agencyRoutes(app.SignalContext(), client)
	if err != nil {
		return err
	}
	return printRoutes(cmd.OutOrStdout(), routes)
}

func printRoutes(out io.Writer, routes []transit.Route) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tDIRECTIONS")
	for _, r := range routes {
		dirs := make([]string, 0, len(r.Directions))
		for _, d := range r.Directions {
			dirs = append(dirs, d.Code)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Code, r.Name, strings.Join(dirs, ", "))
	}
	return w.Flush()
}

func runStops(cmd *cobra.Command, args []string) error {
	client, err := transitClient()
	if err != nil {
		return err
	}

	ctx := app.SignalContext()
	routes, err := agencyRoutes(ctx, client)
	if err != nil {
		return err
	}

	var route *transit.Route
	for i := range routes {
		if routes[i].Code == args[0] {
			route = &routes[i]
			break
		}
	}
	if route == nil {
		return fmt.Errorf("route %q not found for agency %s", args[0], listAgency)
	}

	directions := []string{listDirection}
	if listDirection == "" && len(route.Directions) > 0 {
		directions = directions[:0]
		for _, d := range route.Directions {
			directions = append(directions, d.Code)
		}
	}

	out := cmd.OutOrStdout()
	for _, dir := range directions {
		stops, err := client.ListStops(ctx, *route, dir)
		if err != nil {
			return err
		}
		if dir != "" {
			fmt.Fprintf(out, "%s %s\n", route.Code, dir)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STOP\tNAME")
		for _, s := range stops {
			fmt.Fprintf(w, "%s\t%s\n", s.Code, s.Name)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return nil
}
