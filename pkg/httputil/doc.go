// Package httputil holds the JSON response helpers and middleware shared by
// the status server.
//
//	httputil.WriteJSON(w, http.StatusOK, projects)
//	httputil.WriteNotFoundError(w, "project not found")
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
