// Command lambda serves the portfolio API from a Lambda Function URL in
// RESPONSE_STREAM mode. Build with -tags lambda.norpc for the provided.al2023
// runtime.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"portfolio-backend/handler"
	"portfolio-backend/internal/catalog"
	"portfolio-backend/internal/config"
	"portfolio-backend/internal/feed"
	"portfolio-backend/internal/integrations/gemini"
	"portfolio-backend/internal/integrations/github"
	"portfolio-backend/internal/integrations/paramstore"
	"portfolio-backend/internal/repository"
	"portfolio-backend/internal/usecase"
)

const (
	apiKeyParam = "gemini-api-key"
	modelParam  = "config/gemini_model"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.FromEnv()
	if err != nil {
		fatal(zap.NewExample(), "failed to read configuration", err)
	}
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fatal(zap.NewExample(), "failed to build logger", err)
	}
	defer func() { _ = log.Sync() }()

	cat, err := catalog.Default()
	if err != nil {
		fatal(log, "failed to load catalog", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(log, "failed to load AWS config", err)
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
	if err != nil {
		fatal(log, "failed to create SSM client", err)
	}
	model := cfg.GeminiModel
	if model == "" {
		model, err = params.GetOptional(ctx, modelParam, gemini.DefaultModel)
		if err != nil {
			fatal(log, "failed to read model parameter", err)
		}
	}

	factory, err := gemini.NewFactory(
		gemini.ParamStoreKey{Getter: params, Key: apiKeyParam},
		cat.Persona,
		gemini.WithModel(model),
	)
	if err != nil {
		fatal(log, "failed to create Gemini session factory", err)
	}

	chatOpts := []usecase.ChatOption{
		usecase.WithChatLogger(log),
		usecase.WithMaxQuestionLength(cfg.MaxQuestionLength),
	}
	if cfg.TranscriptTable != "" {
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TranscriptTable)
		if err != nil {
			fatal(log, "failed to create transcript store", err)
		}
		chatOpts = append(chatOpts, usecase.WithTranscriptStore(store))
	}

	aggregator, err := feed.NewAggregator(
		github.NewClient(github.WithTimeout(5*time.Second)),
		cfg.GitHubOwner,
		feed.WithLogger(log),
	)
	if err != nil {
		fatal(log, "failed to create project feed", err)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(factory, chatOpts...)
	if err != nil {
		fatal(log, "failed to create chat service", err)
	}
	profileService, err := usecase.NewProfileService(cat.Profile, cat.Greeting)
	if err != nil {
		fatal(log, "failed to create profile service", err)
	}
	projectService := usecase.NewProjectService(cat.StaticProjects(), aggregator)

	h, err := handler.NewHandler(chatService, projectService, profileService, handler.WithLogger(log))
	if err != nil {
		fatal(log, "failed to create handler", err)
	}

	log.Info("starting",
		zap.String("model", factory.Model()),
		zap.String("github_owner", cfg.GitHubOwner),
		zap.Bool("transcripts", cfg.TranscriptTable != ""),
	)
	lambda.Start(h.Handle)
}

func fatal(log *zap.Logger, msg string, err error) {
	log.Error(msg, zap.Error(err))
	_ = log.Sync()
	os.Exit(1)
}
