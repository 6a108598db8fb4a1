package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tinyagent/internal/bootstrap"
	"tinyagent/internal/transport/http/handler"
	"tinyagent/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) (*gin.Engine, error) {
	gin.SetMode(app.Config.App.GinMode)
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	authHandler := handler.NewAuthHandler(app.Auth)
	chatHandler := handler.NewChatHandler(app.Chat)
	providerHandler := handler.NewProviderHandler(app.Providers)
	completionHandler := handler.NewCompletionHandler(app.Completion, app.Logger)

	if dir := app.Config.App.StaticDir; dir != "" {
		router.Static("/static", dir)
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/static/index.html")
		})
	}
	router.GET("/healthz", healthHandler.Check)

	secret := app.Config.Auth.JWTSecret
	chat := router.Group("/api/v1/chat")

	users := chat.Group("/users")
	users.POST("/register", authHandler.Register)
	users.POST("/login", authHandler.Login)
	users.GET("/me", middleware.AuthJWT(secret), authHandler.Me)

	authed := chat.Group("")
	authed.Use(middleware.AuthJWT(secret))
	authed.POST("/chats", chatHandler.CreateSession)
	authed.GET("/chats", chatHandler.ListSessions)
	authed.PUT("/chats/:id", chatHandler.UpdateSession)
	authed.POST("/messages", chatHandler.AppendMessage)
	authed.GET("/history/:id", chatHandler.GetHistory)
	authed.POST("/providers", providerHandler.CreateProvider)
	authed.GET("/providers", providerHandler.ListProviders)
	authed.POST("/providers/:id/models", providerHandler.CreateModel)
	authed.GET("/providers/:id/models", providerHandler.ListModels)

	fake := router.Group("/fakeLLM/v1")
	fake.POST("/chat/completions", middleware.OptionalJWT(secret), completionHandler.ChatCompletions)
	fake.GET("/models", completionHandler.ListModels)

	return router, nil
}
