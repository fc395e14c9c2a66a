package routes

import (
	"github.com/gin-gonic/gin"

	"todoapp/internal/controller"
	"todoapp/internal/middleware"
)

func Router(tc *controller.TodoController) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	// Health for load balancers and K8s probes
	router.GET("/health", controller.Health)
	router.GET("/ready", tc.Ready)

	todo := router.Group("/todo")
	{
		todo.POST("", tc.CreateTodo)
		todo.GET("", tc.GetTodos)
		todo.GET("/:id", tc.GetTodoByID)
		todo.PUT("/:id", tc.UpdateTodo)
		todo.DELETE("/:id", tc.DeleteTodo)
	}

	return router
}
