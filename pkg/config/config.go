package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                string // connection string for the database
	RacesFile         string // path to a YAML race card, used instead of the database
	WatchRacesFile    bool   // reload the race card on change
	WaitForServices   string // duration to wait for other services to be ready
	LogLevel          string // sets the log level (zap log level values)
	SQLLogLevel       string // sets the log level for sql subsystem
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules, e.g. "*:info engine:debug"
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry
	Addr              string // listen addr for the HTTP server
	TLSCertFile       string // path to the TLS certificate (PEM)
	TLSKeyFile        string // path to the TLS key (PEM)
	TraefikCerts      string // path to a traefik acme.json holding the certificate
	TraefikCertDomain string // main domain of the certificate in TraefikCerts
	NatsURL           string // NATS server url, empty disables publishing
	NatsPrefix        string // subject prefix for published messages
	NatsSnapshots     bool   // publish every snapshot, not only state changes
	PersistTimeout    string // timeout for storing a start sequence state
	TickInterval      string // interval the engine clock evaluates the session at
	SimulateFrom      string // RFC3339 instant the clock starts at in simulation mode
	Day               string // day of the session (YYYY-MM-DD), default today
	Window            string // duration after the start of the day races are loaded for
)
