// Package config holds the tabula configuration: which storage handle backs
// mapped columns, how columns are created and grown, how snapshots are
// compressed, and how logging and tracing are set up.
//
// Configuration is read from YAML. Values may reference environment
// variables with ${VAR_NAME}:
//
//	storage:
//	  mode: mmap
//	  dir: ${TABULA_DATA_DIR}
//	  chunk_size_mb: 64
//	columns:
//	  initial_capacity: 4096
//	  growth_factor: 1.5
//	  synchronized: true
//	snapshot:
//	  compression: zstd
//	  level: better
//
// Unset fields keep the values of NewDefault. The command line overlays
// flags and TABULA_* environment variables on top of the loaded file.
package config
