package cfg

type (
	App struct {
		Name       string
		Version    string
		LogBackend string
	}

	Mysql struct {
		Host                  string
		Port                  string
		Username              string
		Password              string
		Database              string
		MaxIdleConnection     int
		MaxOpenConnection     int
		MaxLifeTimeConnection int
	}

	GithubApi struct {
		SearchApiUrl      string
		ReleasesApiUrl    string
		CommitsApiUrl     string
		TokenFile         string
		MinRemaining      int
		RequestIntervalMs int
		MaxRetries        int
		RequestTimeoutSec int
		RateLimitResetMin int
	}

	Crawler struct {
		Sink           string
		OutputDir      string
		Concurrency    int
		BatchSize      int
		BatchDelayMs   int
		MaxRepos       int
		PagesPerWindow int
		PerPage        int
		Schedule       string
	}

	KafkaProducer struct {
		TopicRepo    string
		TopicRelease string
		TopicCommit  string
	}

	Kafka struct {
		Enabled  bool
		Brokers  []string
		Producer KafkaProducer
	}
)

type Config struct {
	App       App
	Mysql     Mysql
	GithubApi GithubApi
	Crawler   Crawler
	Kafka     Kafka
}
