// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/cruciblelabs/crucible/services/forge"
	"github.com/cruciblelabs/crucible/services/forge/handlers"
)

// SetupRoutes registers the API on the router.
func SetupRoutes(router *gin.Engine, service *forge.Service) {
	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	{
		projects := v1.Group("/projects")
		{
			projects.POST("", handlers.CreateProject(service))
			projects.POST("/sync", handlers.GenerateSync(service))
			projects.GET("/:jobId", handlers.GetProject(service))
			projects.GET("/:jobId/files/*path", handlers.GetProjectFile(service))
		}

		v1.POST("/compile", handlers.HandleCompile(service))
		v1.POST("/compile-and-fix", handlers.HandleCompileAndFix(service))
	}
}
