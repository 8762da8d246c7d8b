// Package config loads experiment configuration files.
//
// YAML (.yaml/.yml) and JSON (.json) are supported. Values not present in the
// file keep the defaults of the named preset (or experiment.DefaultConfig);
// durations are Go duration strings such as "500ms" or "3s".
//
//	experiment:
//	  preset: vm
//	  replication: [1, 3, 5]
//	  consistencies: [chain-replication, eventual-consistency]
//	  workers: 10
//	  join:
//	    mode: sequential
//	    stabilize_delay: 3s
package config
