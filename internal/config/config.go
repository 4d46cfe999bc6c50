package config

type FitSection struct {
	Rule          string  `yaml:"rule"`
	MaxIter       int     `yaml:"max_iter"`
	Tolerance     float64 `yaml:"tolerance"`
	Init          string  `yaml:"init"`
	Seed          uint64  `yaml:"seed"`
	Workers       int     `yaml:"workers"`
	NonDecreasing bool    `yaml:"nondecreasing"`
	// Timeout bounds the whole fit; 0 means no bound. Parsed with time.ParseDuration.
	Timeout string `yaml:"timeout,omitempty"`
}

type FormSource struct {
	QPath         string `yaml:"q_path"`
	ResponsesPath string `yaml:"responses_path"`
}

type DataSection struct {
	K int `yaml:"k"`
	// Forms are listed in administration order; form s is the s-th entry.
	Forms []FormSource `yaml:"forms"`
	// VersionsPath is a one-column CSV of 0-based test versions, one row per respondent.
	VersionsPath string `yaml:"versions_path,omitempty"`
	// Order[v][t] is the form version v administers at occasion t.
	Order [][]int `yaml:"order,omitempty"`
	// Header skips the first row of every CSV file.
	Header bool `yaml:"header,omitempty"`
}

type StoreSection struct {
	// DSN selects the fit-run store: "sqlite:<path>", "postgres://..." or empty to disable.
	DSN string `yaml:"dsn,omitempty"`
}

type ProgressSection struct {
	RedisAddr string `yaml:"redis_addr,omitempty"`
	Channel   string `yaml:"channel,omitempty"`
}

type ReportSection struct {
	Out  string `yaml:"out,omitempty"`
	Plot string `yaml:"plot,omitempty"`
	// Metrics receives a Prometheus text-format dump of the fit metrics.
	Metrics string `yaml:"metrics,omitempty"`
}

type TelemetrySection struct {
	// Exporter is "", "stdout" or "otlp".
	Exporter    string `yaml:"exporter,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

type Config struct {
	Env       string           `yaml:"env"`
	Fit       FitSection       `yaml:"fit"`
	Data      DataSection      `yaml:"data"`
	Store     StoreSection     `yaml:"store"`
	Progress  ProgressSection  `yaml:"progress"`
	Report    ReportSection    `yaml:"report"`
	Telemetry TelemetrySection `yaml:"telemetry"`
	// Hyper is an optional path to a YAML prior override.
	Hyper string `yaml:"hyper,omitempty"`

	// Path is the file the config was read from, if any.
	Path string `yaml:"-"`
}
