// Package crawl defines core types shared across subsystems.
package crawl
