package a

import (
	"net"
	"net/http"
)

func handler(w http.ResponseWriter, r *http.Request) {}

func defaultMux() {
	http.HandleFunc("/", handler)                       // want `http.HandleFunc registers on http.DefaultServeMux`
	http.Handle("/x", http.HandlerFunc(handler))        // want `http.Handle registers on http.DefaultServeMux`
	_ = http.ListenAndServe(":8080", nil)               // want `http.ListenAndServe with a nil handler serves http.DefaultServeMux`
	_ = http.ListenAndServeTLS(":8443", "c", "k", nil)  // want `http.ListenAndServeTLS with a nil handler serves http.DefaultServeMux`
	var l net.Listener
	_ = http.Serve(l, nil) // want `http.Serve with a nil handler serves http.DefaultServeMux`
}

func dedicatedMux() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", handler)
	mux.Handle("/x", http.HandlerFunc(handler))
	_ = http.ListenAndServe(":8080", mux)

	srv := &http.Server{Handler: mux}
	_ = srv.ListenAndServe()
}
