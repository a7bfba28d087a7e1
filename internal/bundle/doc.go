// Package bundle persists collected artifacts.
//
// A bundle is a directory named after the run identifier:
//
//	<run_id>/
//	  <category>/<name>.raw      exact stdout bytes
//	  <category>/<name>.stderr   exact stderr bytes, when any
//	  journal.yaml               one YAML document per written module
//	  checksums.txt              "<hex>  <path>" lines, written at finalize
//	  manifest.yaml              sealed run manifest, written once at finalize
//
// Every file is created exclusively and never rewritten, so whatever was
// captured before an abnormal exit stays readable.
package bundle
