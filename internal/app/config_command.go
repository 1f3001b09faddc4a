package app

import (
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/solagent/internal/execution"
	"github.com/ggonzalez94/solagent/internal/ledger/rpcclient"
	"github.com/ggonzalez94/solagent/internal/risk"
)

// settingsView is the displayable subset of config.Settings. Secrets are
// reported only as present or absent.
type settingsView struct {
	OutputMode     string           `json:"output_mode"`
	Timeout        string           `json:"timeout"`
	Retries        int              `json:"retries"`
	EnableCommands []string         `json:"enable_commands,omitempty"`
	Cluster        string           `json:"cluster"`
	RPCURL         string           `json:"rpc_url"`
	RPCRateLimit   float64          `json:"rpc_requests_per_second"`
	RPCBurst       int              `json:"rpc_burst"`
	CacheEnabled   bool             `json:"cache_enabled"`
	CachePath      string           `json:"cache_path"`
	MaxStale       string           `json:"max_stale"`
	JournalPath    string           `json:"journal_path"`
	PriceURL       string           `json:"price_url,omitempty"`
	PriceAPIKeySet bool             `json:"price_api_key_set"`
	PriceCacheTTL  string           `json:"price_cache_ttl"`
	MetricsFile    string           `json:"metrics_file,omitempty"`
	LogLevel       string           `json:"log_level"`
	LogFormat      string           `json:"log_format"`
	AuditLog       string           `json:"audit_log,omitempty"`
	Risk           risk.Limits      `json:"risk"`
	Engine         execution.Config `json:"engine"`
}

func (s *runtimeState) newConfigCommand() *cobra.Command {
	root := &cobra.Command{Use: "config", Short: "Configuration"}
	root.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective settings after file, env and flag precedence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := s.settings
			rpcURL, err := rpcclient.ResolveRPCURL(st.RPCURL, st.Cluster)
			if err != nil {
				rpcURL = ""
			}
			view := settingsView{
				OutputMode:     st.OutputMode,
				Timeout:        st.Timeout.String(),
				Retries:        st.Retries,
				EnableCommands: st.EnableCommands,
				Cluster:        st.Cluster,
				RPCURL:         rpcURL,
				RPCRateLimit:   st.RPCRequestsPerSecond,
				RPCBurst:       st.RPCBurst,
				CacheEnabled:   st.CacheEnabled,
				CachePath:      st.CachePath,
				MaxStale:       st.MaxStale.String(),
				JournalPath:    st.JournalPath,
				PriceURL:       st.PriceURL,
				PriceAPIKeySet: st.PriceAPIKey != "",
				PriceCacheTTL:  st.PriceCacheTTL.String(),
				MetricsFile:    st.MetricsFile,
				LogLevel:       st.Log.Level,
				LogFormat:      st.Log.Format,
				Risk:           st.Risk,
				Engine:         st.Engine,
			}
			if st.Log.Audit.Enabled {
				view.AuditLog = st.Log.Audit.Path
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil, cacheMetaBypass())
		},
	})
	return root
}
