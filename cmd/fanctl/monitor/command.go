package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mdouchement/fanctrld"
	"github.com/mdouchement/fanctrld/client"
	"github.com/mdouchement/fanctrld/target"
	"github.com/spf13/cobra"
)

// Endpoint locates the monitor stream of the controller.
type Endpoint struct {
	URL      string
	Username string
}

func Command(httpc *http.Client, endpoint func() Endpoint) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Start the TUI monitor display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := endpoint()
			password, err := client.ReadSecret(client.PasswordEnv, "Password")
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, e.URL, nil)
			if err != nil {
				return err
			}
			req.SetBasicAuth(e.Username, password)

			resp, err := httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
				return fmt.Errorf("sse bad status: %s body=%q", resp.Status, string(b))
			}

			m := newTUI()
			tui := tea.NewProgram(m, tea.WithAltScreen())

			go func() {
				r := bufio.NewReader(resp.Body)
				for {
					event, err := fanctrld.ReadSSE(r)
					if err != nil {
						tui.Quit()
						fmt.Println("ERR:", err)
						os.Exit(1)
					}
					if len(event) == 0 {
						continue
					}

					var channels []target.Channel
					err = json.Unmarshal(event, &channels)
					if err != nil {
						tui.Quit()
						fmt.Println("ERR:", err)
						os.Exit(1)
					}

					tui.Send(channels)
				}
			}()

			_, err = tui.Run()
			return err
		},
	}
}
