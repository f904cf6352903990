package main

var Version = "dev"
