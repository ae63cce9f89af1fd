/*
Package catalog loads the executor's tool catalog.

The catalog is a directory of YAML or TOML files, each holding a list of
tools:

	tools:
	  - name: nmap
	    command: nmap
	    description: Network scanner
	    category: recon
	    dependencies: [libpcap]
	    guided: nmap -sV localhost
	    direct: nmap

A tool counts as installed when its command's executable is on PATH.
Watch reloads the catalog after files change.
*/
package catalog
