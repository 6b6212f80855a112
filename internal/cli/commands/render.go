package commands

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newRenderCommand(g *globals) *cobra.Command {
	var (
		method  string
		user    string
		data    string
		include bool
	)
	cmd := &cobra.Command{
		Use:   "render <path>",
		Short: "Execute a request against the server without listening",
		Long: `Execute one request through the full handler stack and print the response
body. Paths are relative to the server root, so web scripts are addressed
below the service prefix.

Examples:
  webscript render /service/index
  webscript render "/service/api/login?u=admin&pw=secret&format=json"
  webscript render -u admin:secret /service/api/path/Data%20Dictionary
  webscript render -X POST -u admin:secret /service/index/reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			target := args[0]
			if !strings.HasPrefix(target, "/") {
				target = "/" + target
			}
			req := httptest.NewRequest(strings.ToUpper(method), target, strings.NewReader(data)).WithContext(cmd.Context())
			if data != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if user != "" {
				name, password, _ := strings.Cut(user, ":")
				req.SetBasicAuth(name, password)
			}

			rec := httptest.NewRecorder()
			a.Handler.ServeHTTP(rec, req)

			out := cmd.OutOrStdout()
			if include {
				fmt.Fprintf(out, "%d %s\n", rec.Code, http.StatusText(rec.Code))
				names := make([]string, 0, len(rec.Header()))
				for name := range rec.Header() {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					for _, v := range rec.Header()[name] {
						fmt.Fprintf(out, "%s: %s\n", name, v)
					}
				}
				fmt.Fprintln(out)
			}
			if _, err := out.Write(rec.Body.Bytes()); err != nil {
				return err
			}
			if rec.Code >= http.StatusBadRequest {
				return fmt.Errorf("%s %s returned %d", req.Method, target, rec.Code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Basic credentials as user:password")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVarP(&include, "include", "i", false, "Print the status line and headers")
	return cmd
}
