package main

import (
	"github.com/urfave/cli/v2"

	"github.com/lloydcotten/common-mq/internal/config"
)

// envFlags maps the variables config.LoadFromEnv reads to the run flags
// that carry them.
var envFlags = map[string]string{
	"APP_HOST":                "host",
	"APP_PORT":                "port",
	"MQ_URL":                  "url",
	"MQ_EXCHANGE":             "exchange",
	"MQ_BACKEND_CONFIG":       "backend-config",
	"MQ_DELETE_AFTER_RECEIVE": "delete-after-receive",
	"MQ_DELAY_BETWEEN_POLLS":  "delay-between-polls",
	"MQ_BUFFER":               "buffer",
	"MQ_MAX_RECEIVE_COUNT":    "max-receive-count",
	"MQ_VISIBILITY_TIMEOUT":   "visibility-timeout",
	"MQ_WAIT_TIME_SECONDS":    "wait-time-seconds",
	"MQ_ATTRIBUTES":           "attributes",
	"MQ_CONSUME":              "consume",
	"MQ_AUTO_ACK":             "auto-ack",
	"MQ_HEALTH_SCHEDULE":      "health-schedule",
	"POSTGRES_URI":            "postgres-uri",
	"VERBOSE":                 "verbose",
}

// runFlags returns all CLI flags for the run command
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
		},
		&cli.StringFlag{
			Name:    "host",
			Usage:   "HTTP listen host",
			EnvVars: []string{"APP_HOST"},
			Value:   "0.0.0.0",
		},
		&cli.StringFlag{
			Name:    "port",
			Usage:   "HTTP listen port",
			EnvVars: []string{"APP_PORT"},
			Value:   "8080",
		},
		// Queue configuration flags
		&cli.StringFlag{
			Name:     "url",
			Aliases:  []string{"u"},
			Usage:    "Queue connection string, e.g. amqp://localhost:5672/orders or sqs://orders",
			EnvVars:  []string{"MQ_URL"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "exchange",
			Aliases: []string{"e"},
			Usage:   "Exchange name (amqp only)",
			EnvVars: []string{"MQ_EXCHANGE"},
		},
		&cli.StringFlag{
			Name:    "backend-config",
			Usage:   "Backend specific config: an AMQP URL or a path to an AWS config file",
			EnvVars: []string{"MQ_BACKEND_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "delete-after-receive",
			Usage:   "Delete messages as soon as they are received (sqs only)",
			EnvVars: []string{"MQ_DELETE_AFTER_RECEIVE"},
		},
		&cli.DurationFlag{
			Name:    "delay-between-polls",
			Usage:   "Delay between receive calls (sqs only)",
			EnvVars: []string{"MQ_DELAY_BETWEEN_POLLS"},
		},
		&cli.IntFlag{
			Name:    "max-receive-count",
			Usage:   "Maximum messages per receive call, 1 to 10 (sqs only)",
			EnvVars: []string{"MQ_MAX_RECEIVE_COUNT"},
		},
		// Left as strings so an unset value stays distinct from 0.
		&cli.StringFlag{
			Name:    "visibility-timeout",
			Usage:   "Visibility timeout in seconds for received messages (sqs only)",
			EnvVars: []string{"MQ_VISIBILITY_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "wait-time-seconds",
			Usage:   "Long polling wait in seconds (sqs only)",
			EnvVars: []string{"MQ_WAIT_TIME_SECONDS"},
		},
		&cli.StringFlag{
			Name:    "attributes",
			Usage:   "Queue attributes used when creating the queue, as name=value pairs separated by commas (sqs only)",
			EnvVars: []string{"MQ_ATTRIBUTES"},
		},
		&cli.IntFlag{
			Name:    "buffer",
			Usage:   "Capacity of the message and error buffers",
			EnvVars: []string{"MQ_BUFFER"},
			Value:   config.DefaultQueueBuffer,
		},
		&cli.BoolFlag{
			Name:    "consume",
			Usage:   "Consume messages and record them in the journal",
			EnvVars: []string{"MQ_CONSUME"},
		},
		&cli.BoolFlag{
			Name:    "auto-ack",
			Usage:   "Acknowledge consumed messages once recorded",
			EnvVars: []string{"MQ_AUTO_ACK"},
		},
		&cli.StringFlag{
			Name:    "health-schedule",
			Usage:   "Cron schedule of queue health checks",
			EnvVars: []string{"MQ_HEALTH_SCHEDULE"},
			Value:   config.DefaultHealthSchedule,
		},
		// Journal configuration flags
		&cli.StringFlag{
			Name:    "postgres-uri",
			Usage:   "PostgreSQL URI of the message journal; the journal is disabled when empty",
			EnvVars: []string{"POSTGRES_URI"},
		},
	}
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (config.Config, error) {
	return config.LoadFromEnv(func(key string) (string, bool) {
		name, ok := envFlags[key]
		if !ok {
			return "", false
		}
		return c.String(name), true
	})
}
