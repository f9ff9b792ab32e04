package http_test

import (
	"context"
	"fmt"
	"time"

	httpserver "github.com/fyrsmithlabs/coachd/internal/http"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

type echoCoach struct{}

func (echoCoach) Respond(_ context.Context, req *orchestrator.CoachRequest) (*orchestrator.CoachResponse, error) {
	return &orchestrator.CoachResponse{Reply: "You said: " + req.Message}, nil
}

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	exec, err := orchestrator.NewExecutor(session.NewMemoryStore(), echoCoach{})
	if err != nil {
		panic(err)
	}

	logger := logging.NewNop()
	server, err := httpserver.NewServer(exec, logger, &httpserver.Config{
		Host: "localhost",
		Port: 0,
	})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		fmt.Println("shutdown error:", err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
