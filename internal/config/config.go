package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Service    *svcConfig
	Workflow   *workflowConfig
	Classifier *classifierConfig
}

type svcConfig struct {
	Address        string `envconfig:"DEDUP_PLANNER_ADDRESS" default:":8080"`
	MetricsAddress string `envconfig:"DEDUP_PLANNER_METRICS_ADDRESS" default:":8081"`
	LogLevel       string `envconfig:"DEDUP_PLANNER_LOG_LEVEL" default:"info"`
	CORSOrigins    string `envconfig:"DEDUP_PLANNER_CORS_ORIGINS" default:"*"`
}

type workflowConfig struct {
	// ApprovalTimeout bounds how long a checkpoint waits for a decision
	// before the job is cancelled (default-deny).
	ApprovalTimeout   time.Duration `envconfig:"DEDUP_PLANNER_APPROVAL_TIMEOUT" default:"1h"`
	MutationBatchSize int           `envconfig:"DEDUP_PLANNER_MUTATION_BATCH_SIZE" default:"200"`
	ReportDir         string        `envconfig:"DEDUP_PLANNER_REPORT_DIR" default:"reports"`
	ReportsEnabled    bool          `envconfig:"DEDUP_PLANNER_REPORTS_ENABLED" default:"true"`
}

type classifierConfig struct {
	// Provider selects the duplicate detector: "heuristic" or "openai".
	Provider    string `envconfig:"DEDUP_PLANNER_CLASSIFIER" default:"heuristic"`
	OpenAIToken string `envconfig:"DEDUP_PLANNER_OPENAI_TOKEN" default:""`
	OpenAIModel string `envconfig:"DEDUP_PLANNER_OPENAI_MODEL" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns the configuration with every knob at its default,
// ignoring the environment. Used by tests.
func NewDefault() *Config {
	return &Config{
		Service: &svcConfig{
			Address:        ":8080",
			MetricsAddress: ":8081",
			LogLevel:       "info",
			CORSOrigins:    "*",
		},
		Workflow: &workflowConfig{
			ApprovalTimeout:   time.Hour,
			MutationBatchSize: 200,
			ReportDir:         "reports",
			ReportsEnabled:    true,
		},
		Classifier: &classifierConfig{
			Provider: "heuristic",
		},
	}
}
