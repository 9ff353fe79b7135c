package main

import (
	"github.com/julienschmidt/httprouter"
)

// SetupBookRoutes injects the catalog api endpoints.
func (api *APIHandler) SetupBookRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.GET("/", m.public(api.Index))
	router.GET("/status", m.public(api.Status))
	router.GET("/api/genres", m.public(api.GetGenres))
	router.GET("/api/books", m.public(api.GetAllBooks))
	router.POST("/api/books", m.public(api.CreateBook))
	router.POST("/api/books/fetch-external", m.public(api.FetchExternalBooks))
	router.GET("/api/books/:id", m.public(api.GetOneBook))
	router.PUT("/api/books/:id", m.public(api.UpdateBook))
	router.DELETE("/api/books/:id", m.public(api.DeleteOneBook))
	return router
}
