package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jiawu-lu/lubatch/internal/person"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/item"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/mapper"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/reader"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/writer"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/config/jsl"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/support/incrementer"
	"github.com/jiawu-lu/lubatch/pkg/batch/listener"
	"github.com/jiawu-lu/lubatch/pkg/batch/listener/logging"
	"github.com/jiawu-lu/lubatch/pkg/batch/listener/notification"
	"github.com/jiawu-lu/lubatch/pkg/batch/listener/tracing"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/configbinder"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// connectTimeout bounds connecting to external sinks while a job is built.
const connectTimeout = 10 * time.Second

// Components returns the table of components job definitions may reference.
func (a *App) Components() jsl.Components {
	return jsl.Components{
		Sources: map[string]jsl.SourceBuilder{
			"flatFileSource": a.flatFileSource,
		},
		Mappers: map[string]jsl.MapperBuilder{
			"delimitedMapper": a.delimitedMapper,
		},
		Processors: a.processors(),
		Writers: map[string]jsl.WriterBuilder{
			"consoleWriter": a.consoleWriter,
			"gormWriter":    a.gormWriter,
			"parquetWriter": a.parquetWriter,
			"mongoWriter":   a.mongoWriter,
			"noOpWriter": func(jsl.BuildContext, map[string]string) (port.ItemWriter, error) {
				return item.NewNoOpWriter(), nil
			},
		},
		Listeners: map[string]jsl.ListenerBuilder{
			"loggingJobListener": func(bc jsl.BuildContext, _ map[string]string) (any, error) {
				return logging.NewLoggingJobListener(bc.Config.MaskedParameterKeys()), nil
			},
			"loggingStepListener":  noProps(logging.NewLoggingStepListener()),
			"loggingChunkListener": noProps(logging.NewLoggingChunkListener()),
			"loggingSkipListener":  noProps(logging.NewLoggingSkipListener()),
			"loggingRetryListener": noProps(logging.NewLoggingRetryItemListener()),
			"tracingChunkListener": func(bc jsl.BuildContext, _ map[string]string) (any, error) {
				return tracing.NewTracingChunkListener(bc.Tracer), nil
			},
			"tracingSkipListener": func(bc jsl.BuildContext, _ map[string]string) (any, error) {
				return tracing.NewTracingSkipListener(bc.Tracer), nil
			},
			"notificationListener": noProps(notification.NewNotificationListener(notification.NewLogNotifier())),
			"jobReportListener": func(jsl.BuildContext, map[string]string) (any, error) {
				return listener.NewJobReportListener(a.out), nil
			},
		},
		Incrementers: map[string]jsl.IncrementerBuilder{
			"runIdIncrementer": func(_ jsl.BuildContext, props map[string]string) (port.JobParametersIncrementer, error) {
				var p incrementerProperties
				if err := configbinder.BindProperties(props, &p); err != nil {
					return nil, err
				}
				return incrementer.NewRunIDIncrementer(p.Key), nil
			},
			"timestampIncrementer": func(_ jsl.BuildContext, props map[string]string) (port.JobParametersIncrementer, error) {
				var p incrementerProperties
				if err := configbinder.BindProperties(props, &p); err != nil {
					return nil, err
				}
				return incrementer.NewTimestampIncrementer(p.Key), nil
			},
		},
	}
}

func noProps(l any) jsl.ListenerBuilder {
	return func(jsl.BuildContext, map[string]string) (any, error) { return l, nil }
}

type incrementerProperties struct {
	Key string `yaml:"key"`
}

type flatFileProperties struct {
	Resource       string   `yaml:"resource"`
	LinesToSkip    int      `yaml:"linesToSkip"`
	Comments       []string `yaml:"comments"`
	KeepBlankLines bool     `yaml:"keepBlankLines"`
}

// flatFileSource reads the input of the running execution. Without a checkpointed
// resource or an input.path job parameter it reads lubatch.batch.input, unless the
// properties say otherwise.
func (a *App) flatFileSource(bc jsl.BuildContext, props map[string]string) (port.RecordSource, error) {
	input := bc.Config.Lubatch.Batch.Input
	p := flatFileProperties{Resource: input.Path, LinesToSkip: input.LinesToSkip}
	if input.Comment != "" {
		p.Comments = []string{input.Comment}
	}
	if err := configbinder.BindProperties(props, &p); err != nil {
		return nil, err
	}
	if p.LinesToSkip < 0 {
		return nil, exception.NewConfigurationError("flatFileSource: linesToSkip must not be negative", nil)
	}
	if p.Resource != "" {
		if err := checkInputScheme(p.Resource); err != nil {
			return nil, err
		}
	}

	return &inputSource{
		app:      a,
		name:     "flatFileSource",
		fallback: p.Resource,
		cfg: reader.FlatFileSourceConfig{
			LinesToSkip:    p.LinesToSkip,
			Comments:       p.Comments,
			KeepBlankLines: p.KeepBlankLines,
		},
	}, nil
}

func (a *App) delimitedMapper(bc jsl.BuildContext, props map[string]string) (port.RecordMapper, error) {
	input := bc.Config.Lubatch.Batch.Input
	cfg := mapper.DelimitedMapperConfig{Delimiter: input.Delimiter, Quote: input.Quote, Fields: input.Fields}
	if err := configbinder.BindPropertiesTag(props, &cfg, "mapstructure"); err != nil {
		return nil, err
	}
	m, err := mapper.NewDelimitedMapper[person.Person](cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type formatProperties struct {
	Format string `yaml:"format"`
}

type compositeProperties struct {
	Delegates []string `yaml:"delegates"`
}

func (a *App) processors() map[string]jsl.ProcessorBuilder {
	processors := map[string]jsl.ProcessorBuilder{
		"passThroughProcessor": func(jsl.BuildContext, map[string]string) (port.ItemProcessor, error) {
			return item.NewPassThroughProcessor(), nil
		},
		"loggingProcessor": func(_ jsl.BuildContext, props map[string]string) (port.ItemProcessor, error) {
			var p formatProperties
			if err := configbinder.BindProperties(props, &p); err != nil {
				return nil, err
			}
			return item.NewLoggingProcessor(p.Format), nil
		},
		"upperCaseProcessor": func(jsl.BuildContext, map[string]string) (port.ItemProcessor, error) {
			return person.UpperCaseProcessor{}, nil
		},
		"missingLastNameFilter": func(jsl.BuildContext, map[string]string) (port.ItemProcessor, error) {
			return item.NewFilterProcessor(func(it any) bool { return !person.HasLastName(it) }), nil
		},
	}
	// Delegates are built with empty properties, so they must not be composites themselves.
	processors["compositeProcessor"] = func(bc jsl.BuildContext, props map[string]string) (port.ItemProcessor, error) {
		var p compositeProperties
		if err := configbinder.BindProperties(props, &p); err != nil {
			return nil, err
		}
		if len(p.Delegates) == 0 {
			return nil, exception.NewConfigurationError("compositeProcessor: delegates is required", nil)
		}
		delegates := make([]port.ItemProcessor, 0, len(p.Delegates))
		for _, ref := range p.Delegates {
			ref = strings.TrimSpace(ref)
			build, ok := processors[ref]
			if !ok || ref == "compositeProcessor" {
				return nil, exception.NewConfigurationError(fmt.Sprintf("compositeProcessor: unknown delegate '%s'", ref), nil)
			}
			delegate, err := build(bc, nil)
			if err != nil {
				return nil, err
			}
			delegates = append(delegates, delegate)
		}
		return item.NewCompositeProcessor(delegates...), nil
	}
	return processors
}

func (a *App) consoleWriter(_ jsl.BuildContext, props map[string]string) (port.ItemWriter, error) {
	var p formatProperties
	if err := configbinder.BindProperties(props, &p); err != nil {
		return nil, err
	}
	return writer.NewConsoleWriter(a.out, p.Format), nil
}

// gormWriter writes into the job repository database, so its rows commit with the chunk.
func (a *App) gormWriter(_ jsl.BuildContext, props map[string]string) (port.ItemWriter, error) {
	if a.db == nil {
		return nil, exception.NewConfigurationError("gormWriter requires the sql job repository", nil)
	}
	var cfg writer.GormWriterConfig
	if err := configbinder.BindPropertiesTag(props, &cfg, "mapstructure"); err != nil {
		return nil, err
	}
	w, err := writer.NewGormWriter[person.Person]("gormWriter", a.db, cfg)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (a *App) parquetWriter(_ jsl.BuildContext, props map[string]string) (port.ItemWriter, error) {
	var cfg writer.ParquetWriterConfig
	if err := configbinder.BindPropertiesTag(props, &cfg, "mapstructure"); err != nil {
		return nil, err
	}
	store, err := a.outputStore(context.Background())
	if err != nil {
		return nil, err
	}
	w, err := writer.NewParquetWriter[person.Person]("parquetWriter", store, cfg)
	if err != nil {
		return nil, err
	}
	return w, nil
}

type mongoProperties struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	KeyPrefix  string `yaml:"keyPrefix"`
}

// mongoWriter connects while the job is built; the client is disconnected on Close.
func (a *App) mongoWriter(bc jsl.BuildContext, props map[string]string) (port.ItemWriter, error) {
	mongoCfg := bc.Config.Lubatch.Infrastructure.Mongo
	p := mongoProperties{URI: mongoCfg.URI, Database: mongoCfg.Database, Collection: mongoCfg.Collection}
	if err := configbinder.BindProperties(props, &p); err != nil {
		return nil, err
	}
	if p.URI == "" || p.Database == "" || p.Collection == "" {
		return nil, exception.NewConfigurationError("mongoWriter: uri, database and collection are required", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, coll, err := writer.ConnectMongo(ctx, p.URI, p.Database, p.Collection)
	if err != nil {
		return nil, exception.NewConfigurationError("mongoWriter", err)
	}
	a.onClose(client.Disconnect)
	w, err := writer.NewMongoWriter("mongoWriter", coll, p.KeyPrefix)
	if err != nil {
		return nil, err
	}
	return w, nil
}
