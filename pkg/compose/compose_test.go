package compose

import (
	"os"
	"path/filepath"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Compose", func() {
	ginkgo.Describe("GetServiceName", func() {
		ginkgo.It("returns empty string for nil labels", func() {
			result := GetServiceName(nil)
			gomega.Expect(result).To(gomega.Equal(""))
		})

		ginkgo.It("returns empty string when label not present", func() {
			labels := map[string]string{"other": "value"}
			result := GetServiceName(labels)
			gomega.Expect(result).To(gomega.Equal(""))
		})

		ginkgo.It("returns service name when label present", func() {
			labels := map[string]string{ComposeServiceLabel: "web"}
			result := GetServiceName(labels)
			gomega.Expect(result).To(gomega.Equal("web"))
		})
	})

	ginkgo.Describe("NormalizeProjectName", func() {
		ginkgo.It("lowercases", func() {
			gomega.Expect(NormalizeProjectName("MediaServer")).To(gomega.Equal("mediaserver"))
		})

		ginkgo.It("drops characters outside the compose charset", func() {
			gomega.Expect(NormalizeProjectName("my.stack (old)")).To(gomega.Equal("mystackold"))
		})

		ginkgo.It("trims leading separators", func() {
			gomega.Expect(NormalizeProjectName("_hidden-stack")).To(gomega.Equal("hidden-stack"))
		})
	})

	ginkgo.Describe("FindComposeFile", func() {
		var dir string

		ginkgo.BeforeEach(func() {
			dir = ginkgo.GinkgoT().TempDir()
		})

		write := func(name string) {
			gomega.Expect(os.WriteFile(filepath.Join(dir, name), []byte("services: {}\n"), 0o600)).
				To(gomega.Succeed())
		}

		ginkgo.It("reports absence", func() {
			_, found := FindComposeFile(dir)
			gomega.Expect(found).To(gomega.BeFalse())
		})

		ginkgo.It("finds a lone docker-compose.yml", func() {
			write("docker-compose.yml")
			path, found := FindComposeFile(dir)
			gomega.Expect(found).To(gomega.BeTrue())
			gomega.Expect(path).To(gomega.Equal(filepath.Join(dir, "docker-compose.yml")))
		})

		ginkgo.It("prefers compose.yaml over every other name", func() {
			write("docker-compose.yml")
			write("compose.yml")
			write("compose.yaml")
			path, _ := FindComposeFile(dir)
			gomega.Expect(path).To(gomega.Equal(filepath.Join(dir, "compose.yaml")))
		})

		ginkgo.It("prefers compose.yml over docker-compose names", func() {
			write("docker-compose.yaml")
			write("compose.yml")
			path, _ := FindComposeFile(dir)
			gomega.Expect(path).To(gomega.Equal(filepath.Join(dir, "compose.yml")))
		})
	})

	ginkgo.Describe("ParseFile", func() {
		ginkgo.It("returns sorted service names", func() {
			dir := ginkgo.GinkgoT().TempDir()
			path := filepath.Join(dir, "compose.yaml")
			contents := `
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
  db:
    image: postgres:16
    container_name: main-db
networks:
  default: {}
`
			gomega.Expect(os.WriteFile(path, []byte(contents), 0o600)).To(gomega.Succeed())

			file, err := ParseFile(path)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(file.ServiceNames()).To(gomega.Equal([]string{"db", "web"}))
			gomega.Expect(file.Services["db"].Image).To(gomega.Equal("postgres:16"))
			gomega.Expect(file.Services["db"].ContainerName).To(gomega.Equal("main-db"))
		})

		ginkgo.It("fails on unreadable files", func() {
			_, err := ParseFile(filepath.Join(ginkgo.GinkgoT().TempDir(), "missing.yaml"))
			gomega.Expect(err).To(gomega.HaveOccurred())
		})

		ginkgo.It("fails on invalid yaml", func() {
			dir := ginkgo.GinkgoT().TempDir()
			path := filepath.Join(dir, "compose.yaml")
			gomega.Expect(os.WriteFile(path, []byte("services: [not: a: map\n"), 0o600)).
				To(gomega.Succeed())

			_, err := ParseFile(path)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.Describe("ParseCapabilities", func() {
		ginkgo.It("detects a modern compose CLI", func() {
			help := `Usage:  docker compose up [OPTIONS] [SERVICE...]

Options:
      --pull string      Pull image before running ("always"|"missing"|"never")
      --quiet-pull       Pull without printing progress information
      --wait             Wait for services to be running|healthy
      --wait-timeout int Maximum duration to wait
`
			caps := ParseCapabilities(help)
			gomega.Expect(caps.SupportsWait).To(gomega.BeTrue())
			gomega.Expect(caps.SupportsQuietPull).To(gomega.BeTrue())
			gomega.Expect(caps.SupportsPullPolicy).To(gomega.BeTrue())
		})

		ginkgo.It("detects a minimal CLI", func() {
			caps := ParseCapabilities("Usage: docker-compose up [options]\n  -d  Detached mode\n")
			gomega.Expect(caps.SupportsWait).To(gomega.BeFalse())
			gomega.Expect(caps.SupportsQuietPull).To(gomega.BeFalse())
			gomega.Expect(caps.SupportsPullPolicy).To(gomega.BeFalse())
		})
	})
})
