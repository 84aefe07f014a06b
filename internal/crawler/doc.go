// Package crawler holds the types shared by the crawl pipeline, the chat
// router and the report generator, plus the collaborator interfaces that the
// storage, fetch and publish packages implement.
package crawler
